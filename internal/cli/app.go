// Package cli implements segctl, a terminal front end over the workspace:
// every command builds the stores from persisted state, performs one
// action and persists again, so consecutive invocations behave like one
// long-lived session.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"segclient/internal/apiclient"
	"segclient/internal/config"
	"segclient/internal/eventbus"
	"segclient/internal/logging"
	"segclient/internal/persist"
	"segclient/internal/tracing"
	"segclient/internal/workspace"
	"segclient/internal/wsclient"
)

// Version is reported by `segctl version`; set at link time.
var Version = "dev"

// mode selects how much of the backend a command touches.
type mode int

const (
	// modeLocal reads and writes persisted state only.
	modeLocal mode = iota
	// modeREST also fetches the algorithm catalog and may call REST.
	modeREST
	// modeOnline additionally opens the duplex connection.
	modeOnline
)

type globalFlags struct {
	configPath string
	apiURL     string
	wsURL      string
	stateDir   string
	backend    string
	logLevel   string
	noColor    bool
	json       bool
}

// apply overlays explicitly set flags onto cfg.
func (f *globalFlags) apply(cmd *cobra.Command, cfg config.Config) config.Config {
	changed := cmd.Flags().Changed
	if changed("api-url") {
		cfg.API.BaseURL = f.apiURL
	}
	if changed("ws-url") {
		cfg.WS.BaseURL = f.wsURL
	}
	if changed("state") {
		cfg.State.Dir = f.stateDir
	}
	if changed("store-backend") {
		cfg.State.Backend = f.backend
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	return cfg
}

// app carries what one invocation shares between commands. Clients and
// the workspace are built on first use.
type app struct {
	stdout io.Writer
	stderr io.Writer

	flags globalFlags
	cfg   config.Config
	log   zerolog.Logger
	p     *printer

	api     *apiclient.Client
	ws      *workspace.Workspace
	closers []func()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		log:    zerolog.Nop(),
		p:      newPrinter(stdout, stderr, true, false),
	}
}

// Run executes segctl with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	shown := a.flushToasts()
	a.close()
	if err != nil {
		if !shown[err.Error()] {
			a.p.errorf("%v", err)
		}
		return 1
	}
	return 0
}

// setup resolves configuration and the ambient stack. It runs before
// every command.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Resolve(a.flags.configPath)
	if err != nil {
		return err
	}
	a.cfg = a.flags.apply(cmd, cfg)
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.log = logging.NewWithWriter(a.cfg.Log, a.stderr)
	a.p = newPrinter(a.stdout, a.stderr, a.flags.noColor, a.flags.json)

	shutdown, err := tracing.Init(cmd.Context(), a.cfg.Tracing, Version)
	if err != nil {
		a.log.Warn().Err(err).Msg("tracing disabled")
		return nil
	}
	a.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("tracing shutdown")
		}
	})
	return nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// close runs deferred cleanups, newest first.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) client() (*apiclient.Client, error) {
	if a.api != nil {
		return a.api, nil
	}
	c, err := apiclient.New(apiclient.Config{
		BaseURL:      a.cfg.API.BaseURL,
		Timeout:      a.cfg.API.Timeout.Duration,
		InfoCacheTTL: a.cfg.API.InfoCacheTTL.Duration,
		Logger:       &a.log,
	})
	if err != nil {
		return nil, err
	}
	a.api = c
	return c, nil
}

// workspace opens the state backend and starts a workspace in mode m.
// events may be nil. Toasts are printed when the command ends, so unless
// events are watched live they do not expire.
func (a *app) workspace(ctx context.Context, m mode, events eventbus.Publisher) (*workspace.Workspace, error) {
	if a.ws != nil {
		return a.ws, nil
	}
	backend, err := persist.Open(ctx, a.cfg.State, &a.log)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := backend.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing state")
		}
	})
	api, err := a.client()
	if err != nil {
		return nil, err
	}
	conn := wsclient.New(wsclient.Config{
		BaseURL:              a.cfg.WS.BaseURL,
		ReconnectBase:        a.cfg.WS.ReconnectBase.Duration,
		MaxReconnectAttempts: a.cfg.WS.MaxReconnectAttempts,
		Heartbeat:            a.cfg.WS.Heartbeat.Duration,
		Logger:               &a.log,
	})
	toastTTL := time.Duration(-1)
	if events != nil {
		toastTTL = a.cfg.UI.ToastDuration.Duration
	}
	ws := workspace.New(workspace.Config{
		API:             api,
		Conn:            conn,
		Persist:         backend,
		Events:          events,
		Logger:          &a.log,
		Debounce:        a.cfg.UI.DebounceWindow.Duration,
		ToastDuration:   toastTTL,
		StoreRetryDelay: a.cfg.WS.StoreRetryDelay.Duration,
		Offline:         m != modeOnline,
		SkipCatalog:     m == modeLocal,
	})
	a.onClose(ws.Close)
	if err := ws.Start(ctx); err != nil {
		return nil, err
	}
	a.ws = ws
	return ws, nil
}

// online starts an online workspace and fails when the duplex connection
// could not be opened.
func (a *app) online(ctx context.Context, events eventbus.Publisher) (*workspace.Workspace, error) {
	ws, err := a.workspace(ctx, modeOnline, events)
	if err != nil {
		return nil, err
	}
	if !ws.Connection.IsConnected() {
		msg := ws.Connection.State().Error
		if msg == "" {
			msg = "not connected"
		}
		return nil, fmt.Errorf("duplex connection to %s unavailable: %s", a.cfg.WS.BaseURL, msg)
	}
	return ws, nil
}

// flushToasts prints the toasts raised during the command and reports
// their messages.
func (a *app) flushToasts() map[string]bool {
	shown := make(map[string]bool)
	if a.ws == nil {
		return shown
	}
	for _, t := range a.ws.UI.Toasts() {
		a.p.toast(t)
		shown[t.Message] = true
	}
	return shown
}
