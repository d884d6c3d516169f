package outputmedia

import (
	"regexp"
	"strings"
)

// Malformed emoji shapes the repair pass recognizes. Full tokens
// (<:name:id>) are already valid and left untouched.
var (
	halfFormPattern = regexp.MustCompile(`<(a?):(\w+):>`)
	// tokenOrBare matches a valid full token (skipped) or a bare :name:.
	tokenOrBare = regexp.MustCompile(`<a?:\w+:\d+>|:(\w+):`)
)

// Repair rewrites common malformed emoji tokens into valid ones. The pass
// is idempotent: repairing already-repaired text is a no-op. Names that do
// not resolve are left unchanged.
func (r *Registry) Repair(text, guildID string) string {
	// Half forms first so the bare pass never sees their remnants.
	text = halfFormPattern.ReplaceAllStringFunc(text, func(match string) string {
		m := halfFormPattern.FindStringSubmatch(match)
		emoji, ok := r.Resolve(m[2], guildID)
		if !ok {
			return match
		}
		return emoji.Token()
	})

	// Bare :name: forms. Valid full tokens match the first alternative and
	// pass through unchanged, which is what makes the pass idempotent.
	text = tokenOrBare.ReplaceAllStringFunc(text, func(match string) string {
		if match[0] == '<' {
			return match
		}
		m := tokenOrBare.FindStringSubmatch(match)
		emoji, ok := r.Resolve(m[1], guildID)
		if !ok {
			return match
		}
		return emoji.Token()
	})

	return text
}

// ChunkSplitter buffers streamed text so that emoji tokens are never split
// across flush boundaries. A suspected partial token is held back until a
// closing '>' or whitespace proves it complete or broken.
type ChunkSplitter struct {
	pending strings.Builder
}

// Feed appends streamed content and returns the prefix that is safe to
// flush now. The unreturned suffix stays buffered.
func (s *ChunkSplitter) Feed(content string) string {
	s.pending.WriteString(content)
	buffered := s.pending.String()

	cut := safeCut(buffered)
	if cut == len(buffered) {
		s.pending.Reset()
		return buffered
	}
	out := buffered[:cut]
	s.pending.Reset()
	s.pending.WriteString(buffered[cut:])
	return out
}

// Flush returns everything still buffered.
func (s *ChunkSplitter) Flush() string {
	out := s.pending.String()
	s.pending.Reset()
	return out
}

// safeCut finds the longest prefix that cannot end inside an emoji token.
// A trailing "<...", "<:..." or ":word" run without closing '>' or
// whitespace is held back.
func safeCut(text string) int {
	// Find the last token opener that has not been closed.
	start := -1
	for i := len(text) - 1; i >= 0; i-- {
		c := text[i]
		if c == '>' || c == ' ' || c == '\n' || c == '\t' {
			break
		}
		if c == '<' || c == ':' {
			start = i
			// keep scanning left: a ':' may belong to "<:"
		}
	}
	if start == -1 {
		return len(text)
	}
	// Only hold back plausible token prefixes: "<", "<a", "<:", ":name".
	suffix := text[start:]
	if strings.HasPrefix(suffix, "<") || suspectedBareToken(suffix) {
		return start
	}
	return len(text)
}

// suspectedBareToken reports whether suffix looks like an unterminated
// ":name" run.
func suspectedBareToken(suffix string) bool {
	if len(suffix) == 0 || suffix[0] != ':' {
		return false
	}
	for _, c := range suffix[1:] {
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
