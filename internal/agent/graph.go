package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/outputmedia"
	"github.com/user/hatsuka/internal/persona"
	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/internal/tooling"
	"github.com/user/hatsuka/pkg/llm"
)

const researchTopicLimit = 200

// Graph runs the plan → execute → reflect → finalize state machine.
type Graph struct {
	provider  llm.Provider
	registry  *tooling.Registry
	personas  *persona.Store
	emoji     *outputmedia.Registry
	behavior  config.BehaviorConfig
	streaming config.StreamingConfig
	logger    *slog.Logger
}

// New creates a Graph with its long-lived collaborators. Per-invocation
// state and the progress bus are supplied to Run.
func New(
	provider llm.Provider,
	registry *tooling.Registry,
	personas *persona.Store,
	emoji *outputmedia.Registry,
	behavior config.BehaviorConfig,
	streaming config.StreamingConfig,
	logger *slog.Logger,
) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		provider:  provider,
		registry:  registry,
		personas:  personas,
		emoji:     emoji,
		behavior:  behavior,
		streaming: streaming,
		logger:    logger,
	}
}

type node int

const (
	nodePlan node = iota
	nodeExecute
	nodeReflect
	nodeFinalize
)

// Run drives the graph to completion. Exactly one of OnCompletion or
// OnError reaches the bus. The state is not reusable afterwards.
func (g *Graph) Run(ctx context.Context, state *State, bus *progress.Bus) error {
	current := nodePlan
	for !state.Finished {
		if err := ctx.Err(); err != nil {
			g.fail(state, bus, llm.NewError(llm.KindCancelled, err))
			return err
		}

		var err error
		switch current {
		case nodePlan:
			err = g.plan(ctx, state, bus)
			if err == nil {
				if state.Plan.NeedsTools && g.behavior.MaxToolRounds > 0 {
					current = nodeExecute
				} else {
					current = nodeFinalize
				}
			}
		case nodeExecute:
			err = g.execute(ctx, state, bus)
			if err == nil {
				current = nodeReflect
			}
		case nodeReflect:
			err = g.reflect(ctx, state, bus)
			if err == nil {
				if state.IsSufficient || state.ToolRound >= g.behavior.MaxToolRounds {
					current = nodeFinalize
				} else {
					current = nodePlan
				}
			}
		case nodeFinalize:
			err = g.finalize(ctx, state, bus)
		}

		if err != nil {
			g.fail(state, bus, err)
			return err
		}
	}
	return nil
}

// fail terminates the run with a single OnError. The final answer is never
// written on failure.
func (g *Graph) fail(state *State, bus *progress.Bus, err error) {
	state.Finished = true
	kind := llm.KindOf(err)
	if kind == llm.KindCancelled {
		g.logger.Info("invocation cancelled")
	} else {
		g.logger.Error("invocation failed", "kind", string(kind), "error", err)
	}
	bus.EmitError(err)
}

// plan analyzes the request and decides whether tools are needed.
func (g *Graph) plan(ctx context.Context, state *State, bus *progress.Bus) error {
	if state.CurrentPersona == "" {
		state.CurrentPersona = g.personas.Select()
	}
	if state.ResearchTopic == "" {
		state.ResearchTopic = truncateTopic(state.LatestUserText(), researchTopicLimit)
	}

	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageGenerateQuery, ProgressPct: 20, ETASeconds: -1})

	if len(state.Messages) == 0 {
		state.Plan = &Plan{}
		state.FinalAnswer = "嗯...好像沒有收到你的訊息耶，可以再試一次嗎？😅"
		state.Finished = true
		bus.EmitCompletion(state.FinalAnswer, nil)
		return nil
	}
	if g.behavior.MaxToolRounds == 0 {
		state.Plan = &Plan{}
		return nil
	}

	// Deterministic pre-detection: recognized video links always produce a
	// summary call ahead of whatever the model decides.
	preDetected := g.preDetectToolCalls(state)

	resp, err := g.completeWithOverflowRetry(ctx, state, llm.Request{
		Role:     llm.RolePlanner,
		System:   g.plannerSystem(state),
		Messages: toLLMMessages(state.Messages),
		Tools:    g.registry.Declarations(),
	})
	if err != nil {
		switch llm.KindOf(err) {
		case llm.KindInvalidStructuredOutput:
			g.logger.Warn("planner returned unparseable tool calls, continuing without tools", "error", err)
			resp = &llm.Response{}
		case llm.KindCancelled:
			return err
		default:
			return fmt.Errorf("planner: %w", err)
		}
	}

	calls := preDetected
	for _, call := range resp.ToolCalls {
		if isDuplicateCall(calls, call) {
			continue
		}
		call.Priority = g.registry.PriorityOf(call.Name)
		calls = append(calls, call)
	}

	if len(calls) > 0 {
		state.Plan = &Plan{NeedsTools: true, ToolCalls: calls, Reasoning: resp.Content}
	} else {
		state.Plan = &Plan{Reasoning: resp.Content}
	}
	return nil
}

// preDetectToolCalls scans the last user message for recognized URL
// patterns and synthesizes the corresponding calls.
func (g *Graph) preDetectToolCalls(state *State) []llm.ToolCall {
	decl, ok := g.registry.Get("video_summary")
	if !ok || !decl.Enabled {
		return nil
	}
	url := findVideoURL(state.LatestUserText())
	if url == "" {
		return nil
	}
	return []llm.ToolCall{{
		Name:      "video_summary",
		Arguments: map[string]any{"url": url},
		Priority:  decl.Priority,
		TaskID:    newTaskID(),
	}}
}

func isDuplicateCall(existing []llm.ToolCall, call llm.ToolCall) bool {
	for _, e := range existing {
		if e.Name != call.Name {
			continue
		}
		if fmt.Sprint(e.Arguments) == fmt.Sprint(call.Arguments) {
			return true
		}
	}
	return false
}

// reflect evaluates whether the accumulated results answer the request.
func (g *Graph) reflect(ctx context.Context, state *State, bus *progress.Bus) error {
	if state.ToolRound >= g.behavior.MaxToolRounds {
		state.IsSufficient = true
		return nil
	}
	if !g.behavior.EnableReflection {
		state.IsSufficient = true
		return nil
	}

	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageReflection, ProgressPct: 70, ETASeconds: -1})

	// A round in which every call failed can never be sufficient.
	if allFailed(state.ToolResults) {
		state.IsSufficient = false
		state.ReflectionReasoning = "所有工具呼叫都失敗了"
		return nil
	}

	resp, err := g.provider.Complete(ctx, llm.Request{
		Role:     llm.RoleReflector,
		Messages: []llm.Message{{Role: "user", Content: g.reflectionPrompt(state)}},
		ResponseSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"is_sufficient": map[string]any{"type": "boolean"},
				"reasoning":     map[string]any{"type": "string"},
			},
			"required": []any{"is_sufficient", "reasoning"},
		},
	})
	if err != nil {
		if llm.KindOf(err) == llm.KindCancelled {
			return err
		}
		// Reflection is advisory; on failure assume the results suffice.
		g.logger.Warn("reflection failed, assuming sufficient", "error", err)
		state.IsSufficient = true
		return nil
	}

	verdict, err := parseReflection(resp.Content)
	if err != nil {
		g.logger.Warn("reflection output unparseable, assuming sufficient", "error", err)
		state.IsSufficient = true
		return nil
	}
	state.IsSufficient = verdict.IsSufficient
	state.ReflectionReasoning = verdict.Reasoning
	return nil
}

func allFailed(results []tooling.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Success {
			return false
		}
	}
	return true
}

// completeWithOverflowRetry drops the oldest history window and retries
// once when the provider reports a context overflow. A second overflow
// surfaces to the caller.
func (g *Graph) completeWithOverflowRetry(ctx context.Context, state *State, req llm.Request) (*llm.Response, error) {
	resp, err := g.provider.Complete(ctx, req)
	if err == nil || llm.KindOf(err) != llm.KindContextOverflow || len(state.Messages) <= 1 {
		return resp, err
	}
	g.logger.Warn("context overflow, dropping oldest history and retrying", "messages", len(state.Messages))
	state.Messages = state.Messages[len(state.Messages)/2:]
	req.Messages = toLLMMessages(state.Messages)
	return g.provider.Complete(ctx, req)
}

// now is a package hook for tests.
var now = time.Now
