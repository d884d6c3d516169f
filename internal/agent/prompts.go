package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/user/hatsuka/internal/conversation"
	"github.com/user/hatsuka/internal/outputmedia"
	"github.com/user/hatsuka/internal/tooling/tools"
	"github.com/user/hatsuka/pkg/llm"
)

// plannerSystem builds the Plan node's system instruction.
func (g *Graph) plannerSystem(state *State) string {
	var b strings.Builder
	b.WriteString(g.personas.Prompt(state.CurrentPersona))
	b.WriteString("\n\n現在時間：")
	b.WriteString(now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\n\n請分析用戶的最新請求。如果需要最新資訊、即時數據、外部事實或設定提醒，請呼叫合適的工具；否則直接回覆。研究主題：%s", state.ResearchTopic)
	if state.GlobalMetadata != "" {
		b.WriteString("\n")
		b.WriteString(state.GlobalMetadata)
	}
	return b.String()
}

// finalizerSystem builds the Finalize node's system instruction, including
// the accumulated tool results and the emoji context.
func (g *Graph) finalizerSystem(state *State) string {
	var b strings.Builder
	b.WriteString(g.personas.Prompt(state.CurrentPersona))
	b.WriteString("\n\n現在時間：")
	b.WriteString(now().Format("2006-01-02 15:04:05"))

	if len(state.AggregatedToolResults) > 0 {
		b.WriteString("\n\n研究結果:\n")
		for i, r := range state.AggregatedToolResults {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Content)
		}
	}

	if ctx := g.emoji.BuildPromptContext(state.GuildRef); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}
	if state.GlobalMetadata != "" {
		b.WriteString("\n")
		b.WriteString(state.GlobalMetadata)
	}

	b.WriteString("\n\n回答要求：用輕鬆、友好的語調，像朋友間聊天一樣自然，回答實用且容易理解。")
	return b.String()
}

// reflectionPrompt asks the reflector to judge sufficiency.
func (g *Graph) reflectionPrompt(state *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "研究主題：%s\n\n目前收集到的結果：\n", state.ResearchTopic)
	for i, r := range state.AggregatedToolResults {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Content)
	}
	b.WriteString("\n請判斷以上結果是否足以回答用戶的請求，並以 JSON 回覆 {\"is_sufficient\": bool, \"reasoning\": string}。")
	return b.String()
}

type reflectionVerdict struct {
	IsSufficient bool   `json:"is_sufficient"`
	Reasoning    string `json:"reasoning"`
}

// parseReflection decodes the reflector's structured output, tolerating a
// markdown code fence around the JSON.
func parseReflection(content string) (reflectionVerdict, error) {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```"); idx != -1 {
		content = strings.TrimPrefix(content[idx:], "```json")
		content = strings.TrimPrefix(content, "```")
		if end := strings.Index(content, "```"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}
	var v reflectionVerdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return reflectionVerdict{}, fmt.Errorf("parse reflection: %w", err)
	}
	return v, nil
}

// toLLMMessages converts conversation messages to the gateway shape.
func toLLMMessages(msgs []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{Role: string(m.Role), Content: m.Content}
		for _, p := range m.Parts {
			switch p.Type {
			case conversation.PartText:
				lm.Parts = append(lm.Parts, llm.Part{Text: p.Text})
			case conversation.PartImage:
				lm.Parts = append(lm.Parts, llm.Part{MIMEType: p.MIMEType, Data: p.Data})
			}
		}
		out = append(out, lm)
	}
	return out
}

func findVideoURL(text string) string { return tools.FindVideoURL(text) }

func newTaskID() string { return uuid.New().String() }

func (g *Graph) newSplitter() *outputmedia.ChunkSplitter { return &outputmedia.ChunkSplitter{} }
