// Package tools contains the concrete tool implementations registered with
// the orchestrator: web search, video summary, and reminder setting.
package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/hatsuka/internal/tooling"
	"github.com/user/hatsuka/pkg/llm"
)

// WebSearchConfig tunes the web search tool.
type WebSearchConfig struct {
	// ExtractContent fetches and converts the top result pages to markdown.
	ExtractContent bool
	// MaxExtracted bounds how many result pages are fetched.
	MaxExtracted int
	// ExtractLimit truncates each extracted page (bytes of markdown).
	ExtractLimit int
}

// WebSearchTool answers queries with provider-side search grounding and
// returns text plus harvested sources.
type WebSearchTool struct {
	provider   llm.Provider
	config     WebSearchConfig
	httpClient *http.Client
}

// NewWebSearchTool creates the search tool backed by the given provider.
func NewWebSearchTool(provider llm.Provider, config WebSearchConfig) *WebSearchTool {
	if config.MaxExtracted == 0 {
		config.MaxExtracted = 2
	}
	if config.ExtractLimit == 0 {
		config.ExtractLimit = 4000
	}
	return &WebSearchTool{
		provider:   provider,
		config:     config,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "搜尋網路並返回結果。用於獲取最新資訊、即時數據或新聞事件。query 參數為要搜尋的內容。"
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []any{"query"},
	}
}

// Execute runs one grounded search call.
func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) tooling.Result {
	query, _ := args["query"].(string)
	if query == "" {
		return tooling.Result{Success: false, Content: "query is required", ErrorKind: tooling.ErrKindBadArgs}
	}

	prompt := fmt.Sprintf(
		"今天是 %s。請搜尋並整理以下主題的最新資訊，附上重點摘要：%s",
		time.Now().Format("2006-01-02"), query,
	)

	resp, err := t.provider.Complete(ctx, llm.Request{
		Role:         llm.RolePlanner,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		EnableSearch: true,
	})
	if err != nil {
		return tooling.Result{
			Success:   false,
			Content:   fmt.Sprintf("search failed: %v", err),
			ErrorKind: classifyLLMError(err),
		}
	}
	if resp.Content == "" {
		return tooling.Result{Success: false, Content: fmt.Sprintf("no results for %q", query), ErrorKind: tooling.ErrKindInternal}
	}

	content := resp.Content
	if t.config.ExtractContent {
		if extra := t.extractPages(ctx, resp.Sources); extra != "" {
			content += "\n\n" + extra
		}
	}

	return tooling.Result{
		Success: true,
		Content: content,
		Sources: resp.Sources,
	}
}

// extractPages fetches the top source pages and converts them to markdown.
// Fetch failures are logged and skipped.
func (t *WebSearchTool) extractPages(ctx context.Context, sources []llm.Source) string {
	var parts []string
	for i, src := range sources {
		if i >= t.config.MaxExtracted {
			break
		}
		md, err := t.fetchMarkdown(ctx, src.URL)
		if err != nil {
			slog.Debug("page extraction skipped", "url", src.URL, "error", err)
			continue
		}
		if len(md) > t.config.ExtractLimit {
			md = md[:t.config.ExtractLimit] + "\n[truncated]"
		}
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s", src.URL, md))
	}
	return strings.Join(parts, "\n\n")
}

func (t *WebSearchTool) fetchMarkdown(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert: %w", err)
	}
	return md, nil
}

func classifyLLMError(err error) tooling.ErrorKind {
	switch llm.KindOf(err) {
	case llm.KindCancelled:
		return tooling.ErrKindCancelled
	case llm.KindTransientNetwork, llm.KindRateLimited:
		return tooling.ErrKindNetwork
	default:
		return tooling.ErrKindInternal
	}
}
