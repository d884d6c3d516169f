package progress

import (
	"sync/atomic"

	"github.com/user/hatsuka/pkg/llm"
)

// blockingObserver holds every delivery until released, counting what
// eventually arrives.
type blockingObserver struct {
	release     chan struct{}
	progress    atomic.Int64
	completions atomic.Int64
}

func (o *blockingObserver) OnProgress(Event) {
	<-o.release
	o.progress.Add(1)
}
func (o *blockingObserver) OnStreamingChunk(Chunk) { <-o.release }
func (o *blockingObserver) OnStreamingComplete()   { <-o.release }
func (o *blockingObserver) OnCompletion(string, []llm.Source) {
	<-o.release
	o.completions.Add(1)
}
func (o *blockingObserver) OnError(error) { <-o.release }
