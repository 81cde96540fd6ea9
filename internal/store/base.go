package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"segclient/internal/eventbus"
	"segclient/internal/metrics"
	"segclient/internal/persist"
	"segclient/internal/wsclient"
)

// Persistence namespaces, one per store.
const (
	NamespaceImage        = "image-store"
	NamespaceSegmentation = "segmentation-store"
	NamespaceSession      = "session-store"
	NamespaceUI           = "ui-store"
)

const persistTimeout = 5 * time.Second

// Options are shared by every store constructor. Zero values are usable:
// nothing is persisted and events are dropped.
type Options struct {
	Persist   persist.Backend
	Events    eventbus.Publisher
	Logger    *zerolog.Logger
	Scheduler wsclient.Scheduler
	Now       func() time.Time
}

// base carries the plumbing every store needs.
type base struct {
	name      string
	namespace string
	backend   persist.Backend
	events    eventbus.Publisher
	log       zerolog.Logger
	sched     wsclient.Scheduler
	now       func() time.Time

	// saveMu orders snapshot-and-write pairs so an older snapshot never
	// lands after a newer one.
	saveMu sync.Mutex
}

func (b *base) init(name, namespace string, o Options) {
	b.name = name
	b.namespace = namespace
	b.backend = o.Persist
	b.events = eventbus.OrNop(o.Events)
	b.log = zerolog.Nop()
	if o.Logger != nil {
		b.log = o.Logger.With().Str("store", name).Logger()
	}
	b.sched = o.Scheduler
	if b.sched == nil {
		b.sched = wsclient.RealScheduler{}
	}
	b.now = o.Now
	if b.now == nil {
		b.now = time.Now
	}
}

func (b *base) emit(name string, fields map[string]any) {
	b.events.Publish(eventbus.Event{Name: name, Store: b.name, Fields: fields, At: b.now()})
}

// save writes the value produced by snapshot. snapshot runs under saveMu
// and is expected to take the store lock itself.
func (b *base) save(snapshot func() any) {
	if b.backend == nil {
		return
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := persist.SaveJSON(ctx, b.backend, b.namespace, snapshot()); err != nil {
		metrics.PersistError(b.name)
		b.log.Warn().Err(err).Msg("persist failed")
	}
}

// load decodes the persisted slice into v. It reports whether anything
// was restored.
func (b *base) load(ctx context.Context, v any) (bool, error) {
	if b.backend == nil {
		return false, nil
	}
	err := persist.LoadJSON(ctx, b.backend, b.namespace, v)
	if errors.Is(err, persist.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		b.log.Warn().Err(err).Msg("restore failed")
		return false, err
	}
	return true, nil
}
