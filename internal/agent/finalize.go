package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/pkg/llm"
)

// finalize produces the answer, streamed when the configuration and
// registered observers allow it.
func (g *Graph) finalize(ctx context.Context, state *State, bus *progress.Bus) error {
	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageFinalize, ProgressPct: 85, ETASeconds: -1})

	req := llm.Request{
		Role:     llm.RoleFinalizer,
		System:   g.finalizerSystem(state),
		Messages: toLLMMessages(state.Messages),
	}

	if g.shouldStream(state, bus) {
		if err := g.finalizeStreaming(ctx, state, bus, req); err != nil {
			return err
		}
	} else {
		resp, err := g.completeWithOverflowRetry(ctx, state, req)
		if err != nil {
			return fmt.Errorf("finalizer: %w", err)
		}
		state.FinalAnswer = g.emoji.Repair(resp.Content, state.GuildRef)
		bus.EmitCompletion(state.FinalAnswer, state.Sources)
	}

	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageCompleted, ProgressPct: 100, ETASeconds: 0})
	state.Finished = true
	return nil
}

// shouldStream decides the delivery mode: stream only when enabled, an
// observer is registered, and the projected answer is not known to be
// shorter than the configured minimum.
func (g *Graph) shouldStream(state *State, bus *progress.Bus) bool {
	if !g.streaming.Enabled || !bus.HasObservers() {
		return false
	}
	if g.streaming.MinContentLength > 0 && g.projectedLength(state) < g.streaming.MinContentLength {
		return false
	}
	return true
}

// projectedLength is a coarse answer-size estimate from the request and
// the accumulated tool content.
func (g *Graph) projectedLength(state *State) int {
	total := len(state.LatestUserText())
	for _, r := range state.AggregatedToolResults {
		total += len(r.Content)
	}
	return total
}

// finalizeStreaming drives the streaming call. The emoji repair pass runs
// at flush boundaries only, and tokens are never split across chunks.
func (g *Graph) finalizeStreaming(ctx context.Context, state *State, bus *progress.Bus, req llm.Request) error {
	stream, err := g.provider.Stream(ctx, req)
	if err != nil {
		return fmt.Errorf("finalizer stream: %w", err)
	}

	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageStreaming, ProgressPct: 90, ETASeconds: -1})

	splitter := g.newSplitter()
	var full strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return fmt.Errorf("finalizer stream: %w", chunk.Err)
		}
		if chunk.Content == "" {
			continue
		}
		if safe := splitter.Feed(chunk.Content); safe != "" {
			repaired := g.emoji.Repair(safe, state.GuildRef)
			full.WriteString(repaired)
			bus.EmitChunk(progress.Chunk{Content: repaired})
		}
	}

	tail := g.emoji.Repair(splitter.Flush(), state.GuildRef)
	full.WriteString(tail)
	bus.EmitChunk(progress.Chunk{Content: tail, IsFinal: true})
	bus.EmitStreamingComplete()

	state.FinalAnswer = full.String()
	bus.EmitCompletion(state.FinalAnswer, state.Sources)
	return nil
}
