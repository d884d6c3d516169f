package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/internal/tooling"
	"github.com/user/hatsuka/pkg/llm"
)

// maxParallelTools bounds the fanout of one Execute round.
const maxParallelTools = 4

// execute dispatches the planned tool calls in parallel and aggregates
// results. Partial failure is not fatal; the round always completes.
func (g *Graph) execute(ctx context.Context, state *State, bus *progress.Bus) error {
	calls := state.Plan.ToolCalls
	state.ToolResults = nil

	statuses := make([]progress.ToolStatus, len(calls))
	for i := range statuses {
		statuses[i] = progress.ToolPending
	}
	var statusMu sync.Mutex
	emitStatus := func() {
		statusMu.Lock()
		line := statusLine(calls, statuses)
		statusMu.Unlock()
		bus.EmitProgress(ctx, progress.Event{Stage: progress.StageToolStatus, Message: line, ProgressPct: 50, ETASeconds: -1})
	}
	setStatus := func(i int, s progress.ToolStatus) {
		statusMu.Lock()
		statuses[i] = s
		statusMu.Unlock()
		emitStatus()
	}
	emitStatus()

	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageToolExecution, ProgressPct: 40, ETASeconds: -1})

	roundBudget := time.Duration(g.behavior.TimeoutPerRound) * time.Second
	perCall := tooling.PerCallTimeout(roundBudget, len(calls))

	roundCtx, cancel := context.WithTimeout(ctx, roundBudget)
	defer cancel()
	roundCtx = tooling.WithExecContext(roundCtx, tooling.ExecContext{
		ChannelRef: state.ChannelRef,
		UserRef:    state.UserRef,
		GuildRef:   state.GuildRef,
	})

	results := make([]tooling.Result, len(calls))
	sem := semaphore.NewWeighted(maxParallelTools)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			if err := sem.Acquire(roundCtx, 1); err != nil {
				results[i] = tooling.Result{
					TaskID:    call.TaskID,
					ToolName:  call.Name,
					Success:   false,
					Content:   "round budget exhausted before dispatch",
					ErrorKind: tooling.ErrKindTimeout,
				}
				setStatus(i, progress.ToolError)
				return
			}
			defer sem.Release(1)

			setStatus(i, progress.ToolRunning)
			res := g.registry.Dispatch(roundCtx, call, perCall)
			results[i] = res
			if res.Success {
				setStatus(i, progress.ToolCompleted)
			} else {
				setStatus(i, progress.ToolError)
			}
		}(i, call)
	}
	wg.Wait()

	state.ToolResults = results
	g.aggregate(state, results)
	state.ToolRound++
	return nil
}

// aggregate merges round results into the cross-round accumulation:
// ordered by priority ascending then insertion, deduplicated by exact
// normalized content (first seen wins). Sources are deduplicated by URL;
// reminder side effects are collected for the session layer.
func (g *Graph) aggregate(state *State, results []tooling.Result) {
	seen := make(map[string]bool, len(state.AggregatedToolResults))
	for _, r := range state.AggregatedToolResults {
		seen[normalizeContent(r.Content)] = true
	}
	seenURL := make(map[string]bool, len(state.Sources))
	for _, s := range state.Sources {
		seenURL[s.URL] = true
	}

	var fresh []tooling.Result
	for _, r := range results {
		if !r.Success {
			continue
		}
		key := normalizeContent(r.Content)
		if !seen[key] {
			seen[key] = true
			fresh = append(fresh, r)
		}
		for _, src := range r.Sources {
			if src.URL == "" || seenURL[src.URL] {
				continue
			}
			seenURL[src.URL] = true
			state.Sources = append(state.Sources, src)
		}
		if r.SideEffect != nil {
			state.Reminders = append(state.Reminders, *r.SideEffect)
		}
	}

	merged := append(state.AggregatedToolResults, fresh...)
	// Stable by construction: sort on priority only, preserving insertion
	// order within equal priorities.
	stableSortByPriority(merged, g.registry)
	state.AggregatedToolResults = merged
}

func stableSortByPriority(results []tooling.Result, registry *tooling.Registry) {
	// Insertion sort keeps the pass stable and the slices are small.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && registry.PriorityOf(results[j].ToolName) < registry.PriorityOf(results[j-1].ToolName); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func normalizeContent(content string) string {
	return strings.TrimSpace(content)
}

// statusLine renders one symbol per call, e.g. "web_search ✅ | video_summary 🔄".
func statusLine(calls []llm.ToolCall, statuses []progress.ToolStatus) string {
	parts := make([]string, len(calls))
	for i, call := range calls {
		parts[i] = call.Name + " " + string(statuses[i])
	}
	return strings.Join(parts, " | ")
}
