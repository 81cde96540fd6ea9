package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"segclient/internal/eventbus"
	"segclient/internal/metrics"
	"segclient/internal/wsclient"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		dur    time.Duration
		stores bool
	)
	c := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print duplex messages and store events",
		Long: "Stay connected and print duplex messages and, with --events, every store event.\n" +
			"Runs until interrupted or until --for elapses. Serves /metrics when metrics.addr is configured.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dur > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, dur)
				defer cancel()
			}

			// The bus outlives the workspace, which publishes while closing.
			// The subscription ends with this command so nothing waits on it.
			bus := eventbus.NewWatermill(&a.log)
			a.onClose(func() { _ = bus.Close() })
			subCtx, unsubscribe := context.WithCancel(ctx)
			defer unsubscribe()
			events, err := bus.Subscribe(subCtx)
			if err != nil {
				return err
			}

			if addr := a.cfg.Metrics.Addr; addr != "" {
				go func() {
					if err := metrics.Serve(ctx, addr); err != nil {
						a.log.Warn().Err(err).Str("addr", addr).Msg("metrics listener")
					}
				}()
			}

			ws, err := a.workspace(ctx, modeOnline, bus)
			if err != nil {
				return err
			}
			if ws.Connection.IsConnected() {
				a.p.successf("connected to %s", a.cfg.WS.BaseURL)
			} else {
				a.p.warnf("not connected to %s yet, retrying in the background", a.cfg.WS.BaseURL)
			}
			unsub := ws.Connection.OnMessage(a.printMessage)
			defer unsub()

			for {
				select {
				case <-ctx.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					if stores || e.Name == "toast_added" {
						a.printEvent(e)
					}
				}
			}
		},
	}
	c.Flags().DurationVar(&dur, "for", 0, "Stop after this long (0 runs until interrupted)")
	c.Flags().BoolVar(&stores, "events", false, "Print every store event, not only toasts")
	return c
}

func (a *app) printMessage(m wsclient.Message) {
	if a.p.json {
		raw, err := wsclient.Encode(m)
		if err == nil {
			fmt.Fprintln(a.p.out, string(raw))
		}
		return
	}
	switch msg := m.(type) {
	case wsclient.ConnectionEstablished:
		a.p.infof("connection %s established", msg.ConnectionID)
	case wsclient.Pong:
		a.p.dim.Fprintf(a.p.out, "  pong %d\n", msg.Timestamp)
	case wsclient.SegmentationStart, wsclient.SegmentationProgress:
		a.printProgress(m)
	case wsclient.SegmentationComplete:
		a.p.successf("%s completed: %d segments in %.2fs", msg.Result.AlgorithmName, msg.Result.SegmentsCount, msg.Result.ProcessingTime)
	case wsclient.SegmentationError:
		a.p.warnf("%s failed: %s", msg.AlgorithmName, msg.ErrorMessage)
	case wsclient.ParameterUpdateComplete:
		a.p.successf("%s re-run with %s=%v", msg.AlgorithmName, msg.ParameterName, msg.ParameterValue)
	case wsclient.ParameterUpdateError:
		a.p.warnf("parameter update failed: %s", msg.Error)
	case wsclient.ServerError:
		a.p.warnf("server: %s", msg.Message)
	default:
		a.p.infof("%s", m.Type())
	}
}

// printEvent writes one store event as "store.name k=v ...".
func (a *app) printEvent(e eventbus.Event) {
	if a.p.json {
		b, err := json.Marshal(e)
		if err == nil {
			fmt.Fprintln(a.p.out, string(b))
		}
		return
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Fields[k]))
	}
	a.p.dim.Fprintf(a.p.out, "%s %s.%s %s\n", e.At.Format(time.TimeOnly), e.Store, e.Name, strings.Join(parts, " "))
}
