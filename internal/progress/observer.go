// Package progress implements the per-invocation observer bus: stage
// events, streaming chunks, completion, and errors fan out to registered
// observers with per-observer ordering.
package progress

import "github.com/user/hatsuka/pkg/llm"

// Stage identifies a point in the orchestration lifecycle.
type Stage string

const (
	StageStarting      Stage = "starting"
	StageGenerateQuery Stage = "generate_query"
	StageToolStatus    Stage = "tool_status"
	StageSearching     Stage = "searching"
	StageAnalyzing     Stage = "analyzing"
	StageReflection    Stage = "reflection"
	StageFinalize      Stage = "finalize_answer"
	StageStreaming     Stage = "streaming"
	StageCompleted     Stage = "completed"
	StageError         Stage = "error"
	StageTimeout       Stage = "timeout"
	StageToolExecution Stage = "tool_execution"
)

// ToolStatus is one symbol of the compact per-call status line.
type ToolStatus string

const (
	ToolPending   ToolStatus = "⚪"
	ToolRunning   ToolStatus = "🔄"
	ToolCompleted ToolStatus = "✅"
	ToolError     ToolStatus = "❌"
)

// Event is a progress update emitted by the orchestrator.
type Event struct {
	Stage       Stage
	Message     string
	ProgressPct int // 0-100, -1 when unknown
	ETASeconds  int // -1 when unknown
	Meta        map[string]any
}

// Chunk is a piece of the streamed final answer.
type Chunk struct {
	Content string
	IsFinal bool
}

// Observer is implemented by transport adapters. Calls arrive in emit
// order per observer; failures never propagate to the core.
type Observer interface {
	OnProgress(event Event)
	OnStreamingChunk(chunk Chunk)
	OnStreamingComplete()
	OnCompletion(finalText string, sources []llm.Source)
	OnError(err error)
}

// ObserverConfig tunes per-observer delivery.
type ObserverConfig struct {
	// MinInterval coalesces streaming chunks closer together than this.
	MinIntervalSeconds float64
	// MaxChunkSize is the accumulated flush ceiling in bytes.
	MaxChunkSize int
	// QueueSize bounds the per-observer delivery queue.
	QueueSize int
}
