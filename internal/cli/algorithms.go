package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"segclient/internal/apiclient"
	"segclient/internal/catalog"
	"segclient/internal/store"
	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

func (a *app) algorithmsCmd() *cobra.Command {
	c := group("algorithms", "Inspect the algorithm catalog", "algos")

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			algos := a.catalog(cmd.Context())
			return a.p.emit(algos, func() {
				rows := make([][]string, 0, len(algos))
				for _, al := range algos {
					rows = append(rows, []string{al.Name, al.DisplayName, strings.Join(paramNames(al), ", ")})
				}
				a.p.table([]string{"name", "display name", "parameters"}, rows)
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show an algorithm and its parameter schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			al, err := a.algorithm(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.p.emit(al, func() {
				a.p.kv("name", al.Name, "display name", al.DisplayName, "description", al.Description)
				rows := make([][]string, 0, len(al.DefaultParameters))
				for _, name := range paramNames(al) {
					ps := al.DefaultParameters[name]
					rows = append(rows, []string{name, string(ps.Type), fmt.Sprint(ps.Value), opt(ps.MinValue), opt(ps.MaxValue), opt(ps.Step)})
				}
				fmt.Fprintln(a.p.out)
				a.p.table([]string{"parameter", "type", "default", "min", "max", "step"}, rows)
			})
		},
	})
	return c
}

// catalog asks the backend for its algorithms and falls back to the
// built-in catalog when it cannot.
func (a *app) catalog(ctx context.Context) []types.AlgorithmInfo {
	api, err := a.client()
	if err == nil {
		var algos []types.AlgorithmInfo
		if algos, err = api.ListAlgorithms(ctx); err == nil && len(algos) > 0 {
			return algos
		}
	}
	if err != nil {
		a.p.warnf("backend catalog unavailable (%v), showing built-in algorithms", err)
	}
	return catalog.Builtin()
}

// algorithm looks name up on the backend, or in the built-in catalog when
// the backend cannot answer.
func (a *app) algorithm(ctx context.Context, name string) (types.AlgorithmInfo, error) {
	api, err := a.client()
	if err == nil {
		var al *types.AlgorithmInfo
		if al, err = api.GetAlgorithm(ctx, name); err == nil {
			return *al, nil
		}
		if apiclient.IsNotFound(err) {
			return types.AlgorithmInfo{}, fmt.Errorf("algorithm not found: %s", name)
		}
	}
	a.p.warnf("backend catalog unavailable (%v), using built-in algorithms", err)
	if al, ok := catalog.Find(catalog.Builtin(), name); ok {
		return al, nil
	}
	return types.AlgorithmInfo{}, fmt.Errorf("algorithm not found: %s", name)
}

func (a *app) activeCmd() *cobra.Command {
	c := group("active", "Manage the algorithms selected for processing")

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active algorithms and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			a.printActive(ws.Segmentation.Active())
			return nil
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "toggle <name>...",
		Short: "Activate or deactivate algorithms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeREST, nil)
			if err != nil {
				return err
			}
			for _, name := range args {
				if !ws.Segmentation.ToggleAlgorithm(name) {
					if _, known := ws.Segmentation.Algorithm(name); !known {
						return fmt.Errorf("unknown algorithm: %s", name)
					}
					return fmt.Errorf("at most %d algorithms can be active", store.MaxActiveAlgorithms)
				}
			}
			a.printActive(ws.Segmentation.Active())
			return nil
		},
	})

	var (
		live bool
		wait time.Duration
	)
	set := &cobra.Command{
		Use:   "set <name> <param> <value>",
		Short: "Change a parameter of an active algorithm",
		Long:  "Change a parameter of an active algorithm. With --live the current image is re-segmented over the duplex channel.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := modeREST
			if live {
				m = modeOnline
			}
			ws, err := a.workspace(cmd.Context(), m, nil)
			if err != nil {
				return err
			}
			name, param := args[0], args[1]
			if !isActive(ws.Segmentation.Active(), name) {
				return fmt.Errorf("algorithm %q is not active", name)
			}
			al, _ := ws.Segmentation.Algorithm(name)
			value, err := parseParam(al, param, args[2])
			if err != nil {
				return err
			}
			if !live {
				ws.UpdateParameter(name, param, value)
				ws.FlushEdits()
				a.printActive(ws.Segmentation.Active())
				return nil
			}
			if !ws.Connection.IsConnected() {
				return fmt.Errorf("duplex connection to %s unavailable", a.cfg.WS.BaseURL)
			}
			if ws.Images.Current() == nil {
				return errNoCurrentImage
			}
			return a.liveUpdate(cmd.Context(), name, param, value, wait)
		},
	}
	set.Flags().BoolVar(&live, "live", false, "Send the change to the backend and wait for the re-run")
	set.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long --live waits for the result")
	c.AddCommand(set)

	c.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Deactivate every algorithm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			ws.Segmentation.ClearActive()
			a.p.infof("no algorithms active")
			return nil
		},
	})
	return c
}

// liveUpdate commits a parameter edit and waits for the backend's
// re-run of that algorithm.
func (a *app) liveUpdate(ctx context.Context, name, param string, value any, wait time.Duration) error {
	ws := a.ws
	done := make(chan wsclient.Message, 1)
	unsub := ws.Connection.OnMessage(func(m wsclient.Message) {
		switch msg := m.(type) {
		case wsclient.ParameterUpdateComplete:
			if msg.AlgorithmName != name {
				return
			}
		case wsclient.ParameterUpdateError:
		default:
			return
		}
		select {
		case done <- m:
		default:
		}
	})
	defer unsub()

	ws.UpdateParameter(name, param, value)
	ws.FlushEdits()

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("no parameter update result within %s", wait)
	case m := <-done:
		if e, ok := m.(wsclient.ParameterUpdateError); ok {
			return fmt.Errorf("parameter update failed: %s", e.Error)
		}
		res := m.(wsclient.ParameterUpdateComplete).Result
		return a.printResults(res.Results)
	}
}

func (a *app) printActive(active []types.AlgorithmConfig) {
	_ = a.p.emit(active, func() {
		if len(active) == 0 {
			a.p.infof("no algorithms active")
			return
		}
		rows := make([][]string, 0, len(active))
		for _, c := range active {
			rows = append(rows, []string{c.Name, c.DisplayName, params(c.Parameters)})
		}
		a.p.table([]string{"name", "display name", "parameters"}, rows)
	})
}

func isActive(active []types.AlgorithmConfig, name string) bool {
	for _, c := range active {
		if c.Name == name {
			return true
		}
	}
	return false
}

// parseParam converts raw to the declared type of param.
func parseParam(al types.AlgorithmInfo, param, raw string) (any, error) {
	ps, ok := al.DefaultParameters[param]
	if !ok {
		return nil, fmt.Errorf("%s has no parameter %q (have %s)", al.Name, param, strings.Join(paramNames(al), ", "))
	}
	var (
		v   any
		err error
	)
	switch ps.Type {
	case types.ParamInt:
		v, err = strconv.Atoi(raw)
	case types.ParamFloat:
		v, err = strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s.%s wants a %s, got %q", al.Name, param, ps.Type, raw)
	}
	f := toFloat(v)
	if ps.MinValue != nil && f < *ps.MinValue || ps.MaxValue != nil && f > *ps.MaxValue {
		return nil, fmt.Errorf("%s.%s must be within [%s, %s]", al.Name, param, opt(ps.MinValue), opt(ps.MaxValue))
	}
	return v, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func paramNames(al types.AlgorithmInfo) []string {
	names := make([]string, 0, len(al.DefaultParameters))
	for n := range al.DefaultParameters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func opt(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}
