// Package gemini implements the llm.Provider interface against the Gemini
// generateContent REST API.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/hatsuka/pkg/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements llm.Provider for the Gemini API.
type Client struct {
	config     llm.Config
	httpClient *http.Client
}

// New creates a Gemini client with the given configuration.
func New(config llm.Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = llm.DefaultRetryPolicy()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Complete sends a generateContent request and returns the full response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	rc := c.config.RoleOrDefault(req.Role)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.config.BaseURL, rc.Model, c.config.APIKey)

	var out *llm.Response
	err = c.config.Retry.Do(ctx, func() error {
		resp, err := c.post(ctx, url, body, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return llm.NewError(llm.KindTransientNetwork, fmt.Errorf("reading response: %w", err))
		}
		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp.StatusCode, respBody)
		}

		var wire geminiResponse
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return llm.NewError(llm.KindProviderError, fmt.Errorf("parsing response: %w", err))
		}
		if wire.Error != nil {
			return llm.NewError(llm.KindProviderError, fmt.Errorf("API error %d: %s", wire.Error.Code, wire.Error.Message))
		}
		if len(wire.Candidates) == 0 {
			return llm.NewError(llm.KindProviderError, fmt.Errorf("no candidates in response"))
		}

		out = decodeResponse(&wire)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream sends a streamGenerateContent request and returns a channel of
// chunks in receipt order. The channel is closed after the final chunk;
// a mid-stream failure is delivered as a trailing chunk with Err set.
func (c *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	rc := c.config.RoleOrDefault(req.Role)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.config.BaseURL, rc.Model, c.config.APIKey)

	resp, err := c.post(ctx, url, body, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	ch := make(chan llm.Chunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var wire geminiResponse
			if err := json.Unmarshal([]byte(data), &wire); err != nil {
				continue
			}
			if wire.Error != nil {
				ch <- llm.Chunk{Err: llm.NewError(llm.KindProviderError, fmt.Errorf("API error: %s", wire.Error.Message)), Final: true}
				return
			}
			if len(wire.Candidates) == 0 {
				continue
			}
			for _, part := range wire.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case ch <- llm.Chunk{Content: part.Text}:
				case <-ctx.Done():
					ch <- llm.Chunk{Err: llm.NewError(llm.KindCancelled, ctx.Err()), Final: true}
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				ch <- llm.Chunk{Err: llm.NewError(llm.KindCancelled, ctx.Err()), Final: true}
			} else {
				ch <- llm.Chunk{Err: llm.NewError(llm.KindTransientNetwork, fmt.Errorf("stream read: %w", err)), Final: true}
			}
			return
		}
		ch <- llm.Chunk{Final: true}
	}()

	return ch, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte, sse bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.NewError(llm.KindCancelled, ctx.Err())
		}
		return nil, llm.NewError(llm.KindTransientNetwork, fmt.Errorf("sending request: %w", err))
	}
	return resp, nil
}

func (c *Client) buildRequest(req llm.Request) geminiRequest {
	rc := c.config.RoleOrDefault(req.Role)

	out := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     rc.Temperature,
			MaxOutputTokens: rc.MaxOutputTokens,
		},
	}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.ResponseSchema != nil {
		out.GenerationConfig.ResponseMimeType = "application/json"
		out.GenerationConfig.ResponseSchema = req.ResponseSchema
	}

	for _, msg := range req.Messages {
		content := geminiContent{Role: wireRole(msg.Role)}
		if len(msg.Parts) > 0 {
			for _, p := range msg.Parts {
				switch {
				case p.Data != "":
					content.Parts = append(content.Parts, geminiPart{InlineData: &geminiInlineData{MIMEType: p.MIMEType, Data: p.Data}})
				case p.FileURI != "":
					content.Parts = append(content.Parts, geminiPart{FileData: &geminiFileData{MIMEType: p.MIMEType, FileURI: p.FileURI}})
				case p.Text != "":
					content.Parts = append(content.Parts, geminiPart{Text: p.Text})
				}
			}
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, geminiPart{Text: msg.Content})
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	// Gemini cannot combine built-in search with function declarations;
	// search grounding calls carry no bound functions.
	if req.EnableSearch {
		out.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	} else if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	return out
}

// wireRole maps conversation roles onto the two roles Gemini accepts.
func wireRole(role string) string {
	switch role {
	case "assistant", "model":
		return "model"
	default:
		return "user"
	}
}

func decodeResponse(wire *geminiResponse) *llm.Response {
	out := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  wire.UsageMetadata.TotalTokenCount,
		},
	}

	cand := wire.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
				TaskID:    uuid.New().String(),
			})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = strings.TrimSpace(text.String())

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				out.Sources = append(out.Sources, llm.Source{Title: chunk.Web.Title, URL: chunk.Web.URI})
			}
		}
	}

	return out
}

func classifyStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	base := fmt.Errorf("API error (status %d): %s", status, msg)
	switch {
	case status == http.StatusTooManyRequests:
		return llm.NewError(llm.KindRateLimited, base)
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "token"):
		return llm.NewError(llm.KindContextOverflow, base)
	case status >= 500:
		return llm.NewError(llm.KindTransientNetwork, base)
	default:
		return llm.NewError(llm.KindProviderError, base)
	}
}
