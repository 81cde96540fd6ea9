package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"segclient/internal/store"
	"segclient/internal/workspace"
	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

func (a *app) segmentCmd() *cobra.Command {
	var (
		view   string
		algos  []string
		stream bool
	)
	c := &cobra.Command{
		Use:   "segment",
		Short: "Segment the current image with the active algorithms",
		Long: "Segment the current image with the active algorithms in the current view mode.\n" +
			"With --stream the request runs over the duplex channel and progress is printed as it arrives.",
		Example: "  segctl segment\n  segctl segment --algorithms slic,watershed --view split\n  segctl segment --stream",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := modeREST
			if stream {
				m = modeOnline
			}
			ws, err := a.workspace(ctx, m, nil)
			if err != nil {
				return err
			}
			if len(algos) > 0 {
				if err := selectAlgorithms(ws, algos); err != nil {
					return err
				}
			}
			if view != "" {
				if err := ws.SetViewMode(types.ViewMode(view)); err != nil {
					return err
				}
			}

			if !stream {
				resp, err := ws.Process(ctx)
				if err != nil {
					return err
				}
				return a.printResponse(resp)
			}

			if !ws.Connection.IsConnected() {
				return fmt.Errorf("duplex connection to %s unavailable", a.cfg.WS.BaseURL)
			}
			unsub := ws.Connection.OnMessage(a.printProgress)
			defer unsub()
			results, err := ws.StreamProcess(ctx)
			if err != nil {
				return err
			}
			return a.printResults(results)
		},
	}
	c.Flags().StringVar(&view, "view", "", "View mode: single|split|grid_2x2")
	c.Flags().StringSliceVar(&algos, "algorithms", nil, "Replace the active set before processing (comma separated)")
	c.Flags().BoolVar(&stream, "stream", false, "Run over the duplex channel and print progress")
	return c
}

// selectAlgorithms makes names the active set, with default parameters
// for algorithms not already active.
func selectAlgorithms(ws *workspace.Workspace, names []string) error {
	current := make(map[string]types.AlgorithmConfig)
	for _, c := range ws.Segmentation.Active() {
		current[c.Name] = c
	}
	var cfgs []types.AlgorithmConfig
	for _, n := range names {
		if c, ok := current[n]; ok {
			cfgs = append(cfgs, c)
			continue
		}
		al, ok := ws.Segmentation.Algorithm(n)
		if !ok {
			return fmt.Errorf("unknown algorithm: %s", n)
		}
		cfgs = append(cfgs, types.AlgorithmConfig{Name: al.Name, DisplayName: al.DisplayName, Parameters: al.Defaults(), IsActive: true})
	}
	ws.Segmentation.SetActiveAlgorithms(cfgs)
	if got := len(ws.Segmentation.Active()); got != len(cfgs) {
		return fmt.Errorf("only %d of %d algorithms could be activated", got, len(cfgs))
	}
	return nil
}

func (a *app) printProgress(m wsclient.Message) {
	switch msg := m.(type) {
	case wsclient.SegmentationStart:
		a.p.infof("%s started", msg.AlgorithmName)
	case wsclient.SegmentationProgress:
		eta := ""
		if msg.EstimatedTimeRemaining != nil {
			eta = fmt.Sprintf(" (~%.1fs left)", *msg.EstimatedTimeRemaining)
		}
		a.p.infof("%s %3.0f%%%s", msg.AlgorithmName, msg.ProgressPercent, eta)
	}
}

func (a *app) printResponse(resp *types.SegmentationResponse) error {
	return a.p.emit(resp, func() {
		a.p.kv("request", resp.RequestID, "view", string(resp.ViewMode), "total", fmt.Sprintf("%.2fs", resp.TotalProcessingTime))
		fmt.Fprintln(a.p.out)
		a.resultTable(resp.Results)
	})
}

func (a *app) printResults(results []types.SegmentationResult) error {
	return a.p.emit(results, func() { a.resultTable(results) })
}

func (a *app) resultTable(results []types.SegmentationResult) {
	if len(results) == 0 {
		a.p.infof("no results")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.AlgorithmName,
			strconv.Itoa(r.SegmentsCount),
			fmt.Sprintf("%.2fs", r.ProcessingTime),
			a.resolve(r.ResultImageURL),
			params(r.ParametersUsed),
		})
	}
	a.p.table([]string{"algorithm", "segments", "time", "image", "parameters"}, rows)
}

func (a *app) resolve(u string) string {
	if a.api == nil || u == "" {
		return u
	}
	return a.api.ResolveURL(u)
}

func (a *app) batchCmd() *cobra.Command {
	var view string
	c := &cobra.Command{
		Use:   "batch <image-id>...",
		Short: "Segment several stored images with the active algorithms",
		Args:  cobra.RangeArgs(1, types.MaxBatchRequests),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(ctx, modeREST, nil)
			if err != nil {
				return err
			}
			mode := types.ViewMode(view)
			if view == "" {
				mode = ws.UI.ViewMode()
			}
			reqs := make([]types.SegmentationRequest, 0, len(args))
			for _, id := range args {
				req, err := ws.Segmentation.Request(id, mode)
				if err != nil {
					return err
				}
				reqs = append(reqs, req)
			}
			resp, err := a.api.BatchSegment(ctx, reqs)
			if err != nil {
				return err
			}
			return a.p.emit(resp, func() {
				for i, r := range resp.SuccessfulResults {
					if i > 0 {
						fmt.Fprintln(a.p.out)
					}
					a.p.kv("request", r.RequestID, "image", r.OriginalImageURL)
					a.resultTable(r.Results)
				}
				for _, e := range resp.Errors {
					a.p.warnf("image %s: %s", args[e.Index], e.Error)
				}
				a.p.infof("%d of %d succeeded", resp.SuccessfulCount, resp.TotalRequested)
			})
		},
	}
	c.Flags().StringVar(&view, "view", "", "View mode for every request (defaults to the current one)")
	return c
}

func (a *app) resultsCmd() *cobra.Command {
	c := group("results", "Inspect segmentation results")

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the results of the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			results := ws.Segmentation.Results()
			if len(results) == 0 {
				if cur := ws.Sessions.Current(); cur != nil {
					results = cur.Results
				}
			}
			return a.printResults(results)
		},
	})

	var (
		remote        bool
		limit, offset int
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "Show the result history, local or from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !remote {
				ws, err := a.workspace(cmd.Context(), modeLocal, nil)
				if err != nil {
					return err
				}
				return a.printResults(ws.Segmentation.Snapshot().ResultHistory)
			}
			api, err := a.client()
			if err != nil {
				return err
			}
			page, err := api.ResultsHistory(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return a.p.emit(page, func() {
				rows := make([][]string, 0, len(page.Results))
				for _, r := range page.Results {
					rows = append(rows, []string{r.ID, r.AlgorithmName, r.ImageID, strconv.Itoa(r.SegmentsCount), r.CreatedAt})
				}
				a.p.table([]string{"id", "algorithm", "image", "segments", "created"}, rows)
				a.p.infof("%d-%d of %d", page.Offset+min(1, len(page.Results)), page.Offset+len(page.Results), page.TotalCount)
			})
		},
	}
	history.Flags().BoolVar(&remote, "remote", false, "Page through the backend's stored results")
	history.Flags().IntVar(&limit, "limit", 20, "Page size with --remote")
	history.Flags().IntVar(&offset, "offset", 0, "Page offset with --remote")
	c.AddCommand(history)

	c.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored result from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.client()
			if err != nil {
				return err
			}
			r, err := api.GetResult(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.p.emit(r, func() {
				a.p.kv("id", r.ID, "image", r.ImageID, "file", r.ImageFilename, "created", r.CreatedAt)
				fmt.Fprintln(a.p.out)
				a.resultTable([]types.SegmentationResult{r.SegmentationResult})
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the working results and the local result history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(cmd.Context(), modeLocal, nil)
			if err != nil {
				return err
			}
			ws.Segmentation.ClearResults()
			ws.Segmentation.ClearResultHistory()
			ws.Sessions.UpdateCurrentSession(func(s *store.SessionSnapshot) { s.Results = nil })
			a.p.infof("results cleared")
			return nil
		},
	})
	return c
}

var errNoCurrentImage = errors.New("no current image: upload or select one first")
