// Package agent implements the orchestrator graph: a deterministic state
// machine of four nodes (plan, execute, reflect, finalize) over a
// per-invocation state.
package agent

import (
	"github.com/user/hatsuka/internal/conversation"
	"github.com/user/hatsuka/internal/tooling"
	"github.com/user/hatsuka/pkg/llm"
)

// Plan is the planner's structured decision for one round.
type Plan struct {
	NeedsTools bool
	ToolCalls  []llm.ToolCall
	Reasoning  string
}

// State is the per-invocation graph state. It is created at request
// admission and discarded at termination; nothing in it outlives the run.
type State struct {
	Messages      []conversation.Message
	ToolRound     int
	Plan          *Plan
	ResearchTopic string

	// ToolResults holds the current round; AggregatedToolResults the
	// deduplicated, priority-ordered accumulation across rounds.
	ToolResults           []tooling.Result
	AggregatedToolResults []tooling.Result

	IsSufficient        bool
	ReflectionReasoning string

	FinalAnswer string
	Sources     []llm.Source
	Finished    bool

	// CurrentPersona is chosen at the first node and stable thereafter.
	CurrentPersona string

	// GlobalMetadata is an opaque hint string forwarded into prompts.
	GlobalMetadata string

	// Reminders collects tool side effects for the session layer.
	Reminders []tooling.ReminderDetails

	// ChannelRef and GuildRef scope emoji resolution and tool context.
	ChannelRef string
	UserRef    string
	GuildRef   string
}

// LatestUserText returns the text of the most recent user message.
func (s *State) LatestUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == conversation.RoleUser {
			return s.Messages[i].Text()
		}
	}
	return ""
}

// truncateTopic returns the first n code points of text.
func truncateTopic(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
