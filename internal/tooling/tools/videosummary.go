package tools

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/user/hatsuka/internal/tooling"
	"github.com/user/hatsuka/pkg/llm"
)

const defaultSummaryTTL = 24 * time.Hour

// videoIDPatterns match the recognized URL shapes. The first capture group
// is the canonical video id.
var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=)([\w-]{6,})`),
	regexp.MustCompile(`(?:youtu\.be/)([\w-]{6,})`),
	regexp.MustCompile(`(?:youtube\.com/shorts/)([\w-]{6,})`),
	regexp.MustCompile(`(?:youtube\.com/embed/)([\w-]{6,})`),
}

// ExtractVideoID returns the canonical video id from a URL, empty when the
// URL matches no recognized pattern.
func ExtractVideoID(raw string) string {
	for _, pat := range videoIDPatterns {
		if m := pat.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return ""
}

// FindVideoURL scans text for the first recognized video link.
func FindVideoURL(text string) string {
	for _, field := range strings.Fields(text) {
		if ExtractVideoID(field) == "" {
			continue
		}
		if u, err := url.Parse(field); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			return field
		}
	}
	return ""
}

type summaryEntry struct {
	result    tooling.Result
	expiresAt time.Time
}

// VideoSummaryTool summarizes a video URL via the model's file-URI input,
// caching successful summaries by canonical id.
type VideoSummaryTool struct {
	provider llm.Provider
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]summaryEntry
}

// NewVideoSummaryTool creates the video summary tool. A zero ttl means the
// 24h default.
func NewVideoSummaryTool(provider llm.Provider, ttl time.Duration) *VideoSummaryTool {
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}
	return &VideoSummaryTool{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]summaryEntry),
	}
}

func (t *VideoSummaryTool) Name() string { return "video_summary" }

func (t *VideoSummaryTool) Description() string {
	return "為給定的影片 URL 生成摘要。此工具僅接受一個 URL。"
}

func (t *VideoSummaryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "要生成摘要的影片 URL",
			},
		},
		"required": []any{"url"},
	}
}

// Execute summarizes one video, serving repeats from the TTL cache.
func (t *VideoSummaryTool) Execute(ctx context.Context, args map[string]any) tooling.Result {
	rawURL, _ := args["url"].(string)
	videoID := ExtractVideoID(rawURL)
	if videoID == "" {
		return tooling.Result{Success: false, Content: "無效的影片 URL", ErrorKind: tooling.ErrKindBadArgs}
	}

	if res, ok := t.cached(videoID); ok {
		return res
	}

	resp, err := t.provider.Complete(ctx, llm.Request{
		Role: llm.RolePlanner,
		Messages: []llm.Message{{
			Role: "user",
			Parts: []llm.Part{
				{FileURI: rawURL, MIMEType: "video/*"},
				{Text: "請幫我總結這部影片，並詳細描述整段影片的內容。"},
			},
		}},
	})
	if err != nil {
		return tooling.Result{
			Success:   false,
			Content:   fmt.Sprintf("摘要執行失敗: %v", err),
			ErrorKind: classifyLLMError(err),
		}
	}
	if resp.Content == "" {
		return tooling.Result{Success: false, Content: "API 回應為空。", ErrorKind: tooling.ErrKindInternal}
	}

	res := tooling.Result{Success: true, Content: resp.Content}
	t.store(videoID, res)
	return res
}

func (t *VideoSummaryTool) cached(videoID string) (tooling.Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.cache[videoID]
	if !ok || t.now().After(entry.expiresAt) {
		return tooling.Result{}, false
	}
	return entry.result, true
}

// store writes a successful summary. Write-after-read races are tolerated;
// last write wins.
func (t *VideoSummaryTool) store(videoID string, res tooling.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, entry := range t.cache {
		if now.After(entry.expiresAt) {
			delete(t.cache, id)
		}
	}
	t.cache[videoID] = summaryEntry{result: res, expiresAt: now.Add(t.ttl)}
}
