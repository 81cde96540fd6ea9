package mockserver

import (
	"context"
	"sync/atomic"
)

// serverBaseCtx is a process-level context canceled on shutdown. Handlers and
// duplex sessions join it so in-flight segmentations stop with the server.
var serverBaseCtx atomic.Value

func init() { serverBaseCtx.Store(ctxBox{context.Background()}) }

type ctxBox struct{ ctx context.Context }

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx.Store(ctxBox{ctx})
}

func baseContext() context.Context { return serverBaseCtx.Load().(ctxBox).ctx }

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
