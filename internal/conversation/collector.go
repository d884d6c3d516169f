package conversation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/hatsuka/internal/config"
)

// ErrInputTooLarge is returned when post-truncation content still exceeds
// the hard prompt-token limit.
var ErrInputTooLarge = errors.New("input too large")

// Collector builds the bounded, ordered message list for one invocation.
type Collector struct {
	limits    config.LimitsConfig
	media     config.InputMediaConfig
	tokenizer *tiktoken.Tiktoken
}

// NewCollector creates a Collector with the given input-shaping limits.
func NewCollector(limits config.LimitsConfig, media config.InputMediaConfig) (*Collector, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	if media.MaxAnimatedFrames <= 0 {
		media.MaxAnimatedFrames = 4
	}
	return &Collector{limits: limits, media: media, tokenizer: enc}, nil
}

// Collect assembles the message list: history is deduplicated by originator
// id (first seen wins) and sorted by timestamp ascending; the current
// utterance and its normalized attachments become the final user message,
// annotated with a media summary marker.
func (c *Collector) Collect(req Request) (Collected, error) {
	history := dedupe(req.History)
	assignTimestamps(history)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Metadata.Timestamp.Before(history[j].Metadata.Timestamp)
	})

	limit := req.HistoryLimit
	if limit <= 0 || limit > c.limits.MaxMessages {
		limit = c.limits.MaxMessages
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:] // drop oldest first
	}

	parts, summary := c.normalizeAttachments(req.Attachments)

	content := req.Content
	if c.limits.MaxText > 0 && len(content) > c.limits.MaxText {
		content = content[:c.limits.MaxText]
	}
	if summary != "" {
		content = strings.TrimRight(content, " ") + "\n" + summary
	}

	current := Message{
		Role:    RoleUser,
		Content: content,
		Parts:   parts,
		Metadata: Metadata{
			OriginID:  req.OriginID,
			Timestamp: orNow(req.Timestamp),
		},
	}

	messages := append(history, current)
	messages = c.enforceTextBudget(messages)

	if c.limits.MaxPromptTokens > 0 && c.countTokens(messages) > c.limits.MaxPromptTokens {
		return Collected{}, fmt.Errorf("%w: prompt exceeds %d tokens", ErrInputTooLarge, c.limits.MaxPromptTokens)
	}

	return Collected{Messages: messages, Summary: summary}, nil
}

// dedupe drops messages with a previously seen originator id, keeping the
// first occurrence.
func dedupe(in []Message) []Message {
	seen := make(map[string]bool, len(in))
	out := make([]Message, 0, len(in))
	for _, m := range in {
		id := m.Metadata.OriginID
		if id != "" {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		out = append(out, m)
	}
	return out
}

// assignTimestamps gives messages without a timestamp a monotonic
// receive-order shift so the stable sort preserves arrival order.
func assignTimestamps(msgs []Message) {
	base := time.Time{}
	for _, m := range msgs {
		if ts := m.Metadata.Timestamp; !ts.IsZero() && ts.After(base) {
			base = ts
		}
	}
	if base.IsZero() {
		base = time.Now()
	}
	shift := time.Millisecond
	for i := range msgs {
		if msgs[i].Metadata.Timestamp.IsZero() {
			msgs[i].Metadata.Timestamp = base.Add(shift)
			shift += time.Millisecond
		}
	}
}

// normalizeAttachments converts attachments into inline image parts,
// sub-sampling animated sources, and builds the human-visible marker.
func (c *Collector) normalizeAttachments(atts []Attachment) ([]Part, string) {
	var parts []Part
	stills, animations := 0, 0
	slots := 0 // image part slots consumed against MaxImages

	for _, att := range atts {
		if c.limits.MaxImages > 0 && slots >= c.limits.MaxImages {
			break
		}
		if att.Animated && len(att.Frames) > 0 {
			frames := subsample(att.Frames, c.media.MaxAnimatedFrames)
			for _, frame := range frames {
				if c.limits.MaxImages > 0 && slots >= c.limits.MaxImages {
					break
				}
				parts = append(parts, Part{
					Type:     PartImage,
					MIMEType: "image/png",
					Data:     base64.StdEncoding.EncodeToString(frame),
				})
				slots++
			}
			animations++
			continue
		}
		parts = append(parts, Part{
			Type:     PartImage,
			MIMEType: att.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(att.Data),
		})
		slots++
		stills++
	}

	return parts, mediaMarker(stills, animations)
}

// mediaMarker renders the trailing summary, e.g. "[包含: 2圖片, 1動畫]".
func mediaMarker(images, animations int) string {
	if images == 0 && animations == 0 {
		return ""
	}
	var items []string
	if images > 0 {
		items = append(items, fmt.Sprintf("%d圖片", images))
	}
	if animations > 0 {
		items = append(items, fmt.Sprintf("%d動畫", animations))
	}
	return "[包含: " + strings.Join(items, ", ") + "]"
}

// subsample picks at most n evenly spaced frames.
func subsample(frames [][]byte, n int) [][]byte {
	if len(frames) <= n {
		return frames
	}
	out := make([][]byte, 0, n)
	step := float64(len(frames)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, frames[int(float64(i)*step)])
	}
	return out
}

// enforceTextBudget drops oldest history messages until the total text size
// fits MaxText. The current (last) message is never dropped.
func (c *Collector) enforceTextBudget(msgs []Message) []Message {
	if c.limits.MaxText <= 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		total += len(m.Text())
	}
	for total > c.limits.MaxText && len(msgs) > 1 {
		total -= len(msgs[0].Text())
		msgs = msgs[1:]
	}
	return msgs
}

func (c *Collector) countTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += len(c.tokenizer.Encode(m.Text(), nil, nil))
	}
	return total
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
