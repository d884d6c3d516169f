// Package trend implements the channel-scoped reactive loop that may echo
// channel activity: reaction, content, and emoji trends.
package trend

import (
	"regexp"
	"strings"
)

// ContentKind discriminates what a message carries for trend comparison.
type ContentKind string

const (
	KindText    ContentKind = "text"
	KindSticker ContentKind = "sticker"
)

// CachedMessage is the trimmed view of a channel message kept for trend
// analysis.
type CachedMessage struct {
	Kind     ContentKind
	Value    string // text content or sticker id
	AuthorID string
	IsBot    bool
	Text     string // processed text for LLM context, may be empty
}

// customEmojiPattern matches transport custom emoji: <:name:id> or
// <a:name:id>.
var customEmojiPattern = regexp.MustCompile(`<a?:[^:]+:\d+>`)

// unicodeEmojiPattern matches the common Unicode emoji blocks.
var unicodeEmojiPattern = regexp.MustCompile("[" +
	"\U0001F1E0-\U0001F1FF" + // flags
	"\U0001F300-\U0001F5FF" + // symbols & pictographs
	"\U0001F600-\U0001F64F" + // emoticons
	"\U0001F680-\U0001F6FF" + // transport & map
	"\U0001F700-\U0001F77F" +
	"\U0001F780-\U0001F7FF" +
	"\U0001F800-\U0001F8FF" +
	"\U0001F900-\U0001F9FF" +
	"\U0001FA00-\U0001FA6F" +
	"\U0001FA70-\U0001FAFF" +
	"✂-➰" +
	"←-⇿" +
	"☀-⛿" +
	"️" + // variation selector-16 (emoji presentation)
	"]+")

// IsEmojiOnly reports whether content consists exclusively of emoji
// (custom tokens and/or Unicode emoji) with nothing else.
func IsEmojiOnly(content string) bool {
	if content == "" {
		return false
	}
	stripped := customEmojiPattern.ReplaceAllString(content, "")
	stripped = unicodeEmojiPattern.ReplaceAllString(stripped, "")
	if strings.TrimSpace(stripped) != "" {
		return false
	}
	return customEmojiPattern.MatchString(content) || unicodeEmojiPattern.MatchString(content)
}

// FirstEmoji extracts the first emoji from text, preferring custom tokens.
func FirstEmoji(text string) string {
	if m := customEmojiPattern.FindString(text); m != "" {
		return m
	}
	return unicodeEmojiPattern.FindString(text)
}

// streak walks history newest-first collecting the run of messages that
// match the predicate, stopping at the first mismatch. It reports the run
// and whether the bot participated in it.
func streak(history []CachedMessage, match func(CachedMessage) bool) (run int, botInRun bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if !match(history[i]) {
			break
		}
		run++
		if history[i].IsBot {
			botInRun = true
		}
	}
	return run, botInRun
}
