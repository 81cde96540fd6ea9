package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"segclient/internal/store"
)

func (a *app) sessionsCmd() *cobra.Command {
	c := group("sessions", "Save and restore working sessions")

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			saved := ws.Sessions.SavedSessions()
			cur := ""
			if s := ws.Sessions.Current(); s != nil {
				cur = s.ID
			}
			return a.p.emit(saved, func() {
				if len(saved) == 0 {
					a.p.infof("no saved sessions")
					return
				}
				rows := make([][]string, 0, len(saved))
				for _, s := range saved {
					mark := ""
					if s.ID == cur {
						mark = "*"
					}
					img := "-"
					if s.Image != nil {
						img = s.Image.OriginalFilename
					}
					rows = append(rows, []string{mark, s.ID, s.Name, img,
						strconv.Itoa(len(s.Algorithms)), strconv.Itoa(len(s.Results)), s.Timestamp.Local().Format(time.DateTime)})
				}
				a.p.table([]string{"", "id", "name", "image", "algorithms", "results", "saved"}, rows)
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Start an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			s := ws.NewSession()
			return a.p.emit(s, func() { a.p.kv("id", s.ID) })
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "save [name]",
		Short: "Save the current image, algorithms and results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			s := ws.SaveSession(name)
			return a.p.emit(s, func() { a.sessionDetails(s) })
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "load <id>",
		Short: "Restore a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			if !ws.RestoreSession(args[0]) {
				return fmt.Errorf("session %s not found", args[0])
			}
			s := ws.Sessions.Current()
			return a.p.emit(s, func() { a.sessionDetails(*s) })
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			if !ws.Sessions.DeleteSession(args[0]) {
				return fmt.Errorf("session %s not found", args[0])
			}
			a.p.infof("deleted %s", args[0])
			return nil
		},
	})
	return c
}

func (a *app) sessionDetails(s store.SessionSnapshot) {
	img := "-"
	if s.Image != nil {
		img = s.Image.OriginalFilename + " (" + s.Image.ID + ")"
	}
	a.p.kv("id", s.ID, "name", s.Name, "image", img,
		"algorithms", strconv.Itoa(len(s.Algorithms)), "results", strconv.Itoa(len(s.Results)))
}
