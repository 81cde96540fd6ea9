package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"segclient/internal/store"
	"segclient/internal/workspace"
	"segclient/pkg/types"
)

func (a *app) viewCmd() *cobra.Command {
	c := group("view", "Layout preferences")

	// local wraps a view action with a local workspace and prints the
	// resulting state.
	local := func(use, short string, args cobra.PositionalArgs, fn func(ws *workspace.Workspace, args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, argv []string) error {
				ws, err := a.workspace(cmd.Context(), modeLocal, nil)
				if err != nil {
					return err
				}
				if err := fn(ws, argv); err != nil {
					return err
				}
				a.printUI(ws.UI.Snapshot())
				return nil
			},
		}
	}

	c.AddCommand(
		local("show", "Show layout preferences", cobra.NoArgs, func(*workspace.Workspace, []string) error { return nil }),
		local("mode <single|split|grid_2x2>", "Switch the comparison layout", cobra.ExactArgs(1), func(ws *workspace.Workspace, args []string) error {
			return ws.SetViewMode(types.ViewMode(args[0]))
		}),
		local("slot <0-3>", "Toggle a grid slot", cobra.ExactArgs(1), func(ws *workspace.Workspace, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil || !ws.UI.ToggleGridSlot(i) {
				return fmt.Errorf("slot must be between 0 and %d", store.GridSlots-1)
			}
			return nil
		}),
		local("sidebar", "Toggle the sidebar", cobra.NoArgs, func(ws *workspace.Workspace, _ []string) error {
			ws.UI.ToggleSidebar()
			return nil
		}),
		local("dark", "Toggle dark mode", cobra.NoArgs, func(ws *workspace.Workspace, _ []string) error {
			ws.UI.ToggleDarkMode()
			return nil
		}),
		local("fullscreen", "Toggle fullscreen", cobra.NoArgs, func(ws *workspace.Workspace, _ []string) error {
			ws.UI.ToggleFullscreen()
			return nil
		}),
	)
	return c
}

func (a *app) printUI(st store.UIState) {
	st.Toasts = nil
	_ = a.p.emit(st, func() {
		slots := make([]string, len(st.Grid.ActiveSlots))
		for i, on := range st.Grid.ActiveSlots {
			slots[i] = "·"
			if on {
				slots[i] = "■"
			}
		}
		a.p.kv(
			"view", string(st.ViewMode),
			"grid", fmt.Sprintf("%dx%d %s", st.Grid.Rows, st.Grid.Cols, strings.Join(slots, "")),
			"sidebar", onOff(st.SidebarOpen),
			"dark mode", onOff(st.DarkMode),
			"fullscreen", onOff(st.Fullscreen),
		)
	})
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}
			h, err := api.Health(cmd.Context())
			if err != nil {
				return err
			}
			return a.p.emit(h, func() {
				a.p.successf("%s is %s", api.BaseURL(), h.Status)
				if h.Version != "" {
					a.p.kv("version", h.Version)
				}
			})
		},
	}
}
