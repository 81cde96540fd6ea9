package workspace

import (
	"time"

	"github.com/rs/zerolog"

	"segclient/internal/eventbus"
	"segclient/internal/persist"
	"segclient/internal/store"
	"segclient/internal/wsclient"
)

// DefaultDebounce is the window parameter edits are collapsed over.
const DefaultDebounce = 300 * time.Millisecond

// API is the backend surface the workspace needs. *apiclient.Client
// satisfies it.
type API interface {
	store.ImageUploader
	store.SegmentationAPI
}

// Config wires a Workspace. API and Conn are required.
type Config struct {
	API  API
	Conn store.Conn

	Persist persist.Backend
	Events  eventbus.Publisher
	Logger  *zerolog.Logger

	// Debounce for parameter edits; zero means DefaultDebounce.
	Debounce time.Duration
	// ToastDuration for toasts added without one; zero means the store default.
	ToastDuration time.Duration
	// StoreRetryDelay for the connection store; zero disables it.
	StoreRetryDelay time.Duration
	// Offline skips connecting in Start. Parameter edits then stay local.
	Offline bool
	// SkipCatalog keeps the built-in algorithm catalog instead of asking
	// the backend in Start.
	SkipCatalog bool

	Scheduler wsclient.Scheduler
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Scheduler == nil {
		c.Scheduler = wsclient.RealScheduler{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) storeOptions() store.Options {
	return store.Options{
		Persist:   c.Persist,
		Events:    c.Events,
		Logger:    c.Logger,
		Scheduler: c.Scheduler,
		Now:       c.Now,
	}
}
