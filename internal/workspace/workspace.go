package workspace

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"segclient/internal/catalog"
	"segclient/internal/store"
)

// Workspace owns one set of stores and the flows between them.
type Workspace struct {
	cfg Config
	log zerolog.Logger

	Images       *store.ImageStore
	Segmentation *store.SegmentationStore
	Sessions     *store.SessionStore
	UI           *store.UIStore
	Connection   *store.ConnectionStore

	debounce *debouncer

	mu      sync.Mutex
	started bool
	unsub   func()
}

// New builds the stores. Nothing is loaded or dialed until Start.
func New(cfg Config) *Workspace {
	cfg = cfg.withDefaults()
	o := cfg.storeOptions()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "workspace").Logger()
	}
	return &Workspace{
		cfg:          cfg,
		log:          log,
		Images:       store.NewImageStore(cfg.API, o),
		Segmentation: store.NewSegmentationStore(cfg.API, o),
		Sessions:     store.NewSessionStore(o),
		UI:           store.NewUIStore(cfg.ToastDuration, o),
		Connection:   store.NewConnectionStore(cfg.Conn, cfg.StoreRetryDelay, o),
		debounce:     newDebouncer(cfg.Debounce, cfg.Scheduler),
	}
}

// Start restores persisted state, subscribes to duplex messages, connects
// unless Offline, and loads the algorithm catalog. Connection and catalog
// failures are logged, not returned: the workspace stays usable offline
// with the built-in catalog. Calling Start twice is a no-op.
func (w *Workspace) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	var errs []error
	for _, l := range []interface{ Load(context.Context) error }{w.Images, w.Segmentation, w.Sessions, w.UI} {
		if err := l.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		w.log.Warn().Err(err).Msg("restoring state")
	}

	unsub := w.Connection.OnMessage(w.route)
	w.mu.Lock()
	w.unsub = unsub
	w.mu.Unlock()

	if !w.cfg.Offline {
		if err := w.Connection.Ensure(ctx); err != nil {
			w.log.Warn().Err(err).Msg("duplex connection unavailable")
		}
	}
	if w.cfg.SkipCatalog {
		w.Segmentation.SetAvailableAlgorithms(catalog.Builtin())
	} else if err := w.Segmentation.LoadAlgorithms(ctx); err != nil {
		w.log.Warn().Err(err).Msg("using built-in algorithm catalog")
	}
	return ctx.Err()
}

// Close commits pending parameter edits, disconnects and stops timers.
// State is persisted as each action runs, so nothing else is flushed.
func (w *Workspace) Close() {
	w.debounce.Flush()
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	w.Connection.Disconnect()
	w.Connection.Close()
	w.UI.Close()
}

// PendingEdits reports parameter edits still inside the debounce window.
func (w *Workspace) PendingEdits() int { return w.debounce.Pending() }

// FlushEdits commits pending parameter edits immediately.
func (w *Workspace) FlushEdits() { w.debounce.Flush() }

func (w *Workspace) toast(t store.ToastType, msg string) string {
	return w.UI.AddToast(store.ToastInput{Type: t, Message: msg})
}
