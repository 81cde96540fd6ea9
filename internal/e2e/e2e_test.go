package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"segclient/internal/apiclient"
	"segclient/internal/eventbus"
	"segclient/internal/mockserver"
	"segclient/pkg/types"
)

// Upload, segment over REST, save a session, then restart against the same
// state directory and restore it.
func TestE2E_ProcessAndRestoreAcrossRestart(t *testing.T) {
	b := newBackend(t, mockserver.Options{})
	dir := t.TempDir()
	ctx := context.Background()

	ws := newWorkspace(t, b, dir, true, nil)
	img, err := ws.Upload(ctx, pngFile(t, "coast.png", 32, 24))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if img.Dimensions != [2]int{32, 24} {
		t.Fatalf("dimensions = %v", img.Dimensions)
	}
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmSLIC)
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmWatershed)
	if err := ws.SetViewMode(types.ViewSplit); err != nil {
		t.Fatalf("view mode: %v", err)
	}

	resp, err := ws.Process(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.ViewMode != types.ViewSplit || len(resp.Results) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	api, _ := apiclient.New(apiclient.Config{BaseURL: b.apiURL()})
	for _, r := range resp.Results {
		res, body := httpGet(t, api.ResolveURL(r.ResultImageURL))
		if res.StatusCode != http.StatusOK || len(body) == 0 {
			t.Fatalf("result image %s: status %d", r.ResultImageURL, res.StatusCode)
		}
	}
	saved := ws.SaveSession("coast run")
	ws.Close()

	again := newWorkspace(t, b, dir, true, nil)
	cur := again.Images.Current()
	if cur == nil || cur.ID != img.ID {
		t.Fatalf("current image not restored: %+v", cur)
	}
	if got := len(again.Segmentation.Active()); got != 2 {
		t.Fatalf("active algorithms restored = %d, want 2", got)
	}
	if got := len(again.Segmentation.Snapshot().ResultHistory); got != 2 {
		t.Fatalf("history restored = %d, want 2", got)
	}
	if again.UI.ViewMode() != types.ViewSplit {
		t.Fatalf("view mode = %s", again.UI.ViewMode())
	}
	if len(again.Segmentation.Results()) != 0 {
		t.Fatal("working set should start empty")
	}
	if !again.RestoreSession(saved.ID) {
		t.Fatalf("session %s not found after restart", saved.ID)
	}
	if got := len(again.Segmentation.Results()); got != 2 {
		t.Fatalf("restored results = %d, want 2", got)
	}
}

// A debounced parameter edit goes out once and its re-run replaces the
// algorithm's entry in the working set.
func TestE2E_ParameterUpdateRoundTrip(t *testing.T) {
	b := newBackend(t, mockserver.Options{})
	ctx := context.Background()
	ws := newWorkspace(t, b, t.TempDir(), false, nil)
	if !ws.Connection.IsConnected() {
		t.Fatalf("not connected: %s", ws.Connection.State().Error)
	}

	if _, err := ws.Upload(ctx, pngFile(t, "a.png", 8, 8)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmSLIC)
	if _, err := ws.Process(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	before := b.srv.Backend().History(100, 0).TotalCount

	for _, v := range []int{300, 350, 400} {
		ws.UpdateParameter(types.AlgorithmSLIC, "n_segments", v)
	}
	ws.FlushEdits()

	waitFor(t, 5*time.Second, "re-run result", func() bool {
		rs := ws.Segmentation.Results()
		return len(rs) == 1 && rs[0].ParametersUsed["n_segments"] == float64(400)
	})
	if got := b.srv.Backend().History(100, 0).TotalCount - before; got != 1 {
		t.Fatalf("backend ran %d re-runs, want 1", got)
	}
	if v := ws.Segmentation.Active()[0].Parameters["n_segments"]; v != 400 {
		t.Fatalf("local parameter = %v", v)
	}
}

// A streamed run reports per-algorithm completions and keeps request order.
func TestE2E_StreamProcess(t *testing.T) {
	b := newBackend(t, mockserver.Options{ProgressDelay: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws := newWorkspace(t, b, t.TempDir(), false, nil)

	if _, err := ws.Upload(ctx, pngFile(t, "a.png", 8, 8)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmWatershed)
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmFelzenszwalb)

	results, err := ws.StreamProcess(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(results) != 2 || results[0].AlgorithmName != types.AlgorithmWatershed || results[1].AlgorithmName != types.AlgorithmFelzenszwalb {
		t.Fatalf("unexpected results: %+v", results)
	}
	if !hasToast(ws, "watershed segmentation completed!") {
		t.Fatal("missing completion toast")
	}
	if got := ws.Segmentation.Snapshot().Progress[types.AlgorithmWatershed]; got != 100 {
		t.Fatalf("watershed progress = %d", got)
	}
}

// An algorithm told to fail is dropped from the streamed result and
// surfaces as an error toast.
func TestE2E_StreamProcessPartialFailure(t *testing.T) {
	b := newBackend(t, mockserver.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ws := newWorkspace(t, b, t.TempDir(), false, nil)

	if _, err := ws.Upload(ctx, pngFile(t, "a.png", 8, 8)); err != nil {
		t.Fatalf("upload: %v", err)
	}
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmSLIC)
	ws.Segmentation.ToggleAlgorithm(types.AlgorithmQuickshift)
	ws.Segmentation.UpdateParameter(types.AlgorithmQuickshift, mockserver.FailParameter, "out of memory")

	results, err := ws.StreamProcess(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(results) != 1 || results[0].AlgorithmName != types.AlgorithmSLIC {
		t.Fatalf("unexpected results: %+v", results)
	}
	if !hasToast(ws, "quickshift failed: out of memory") {
		t.Fatal("missing failure toast")
	}
}

// Dropped duplex connections come back on their own and resume the same
// connection id.
func TestE2E_ReconnectResumesConnection(t *testing.T) {
	b := newBackend(t, mockserver.Options{})
	events := eventbus.NewMemory()
	ws := newWorkspace(t, b, t.TempDir(), false, events)
	waitFor(t, 2*time.Second, "connection id", func() bool {
		return ws.Connection.State().ConnectionID != ""
	})
	id := ws.Connection.State().ConnectionID

	b.srv.Hub().Close()

	waitFor(t, 5*time.Second, "reconnect", func() bool {
		return countNames(events.Names("connection"), "connected") == 2 && ws.Connection.IsConnected()
	})
	if countNames(events.Names("connection"), "disconnected") == 0 {
		t.Fatal("drop was not observed")
	}
	if got := ws.Connection.State().ConnectionID; got != id {
		t.Fatalf("connection id = %q, want %q", got, id)
	}
}

func countNames(names []string, want string) int {
	n := 0
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}
