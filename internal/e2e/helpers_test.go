package e2e

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"segclient/internal/apiclient"
	"segclient/internal/eventbus"
	"segclient/internal/mockserver"
	"segclient/internal/persist"
	"segclient/internal/store"
	"segclient/internal/workspace"
	"segclient/internal/wsclient"
)

// backend is a mock segmentation service behind a real listener.
type backend struct {
	srv *mockserver.Server
	ts  *httptest.Server
}

func (b *backend) apiURL() string { return b.ts.URL }
func (b *backend) wsURL() string  { return "ws" + strings.TrimPrefix(b.ts.URL, "http") }

func newBackend(t *testing.T, opts mockserver.Options) *backend {
	t.Helper()
	if opts.ProgressDelay == 0 {
		opts.ProgressDelay = -1
	}
	srv := mockserver.New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &backend{srv: srv, ts: ts}
}

// newWorkspace starts a workspace against b that keeps its state in dir.
// events may be nil.
func newWorkspace(t *testing.T, b *backend, dir string, offline bool, events eventbus.Publisher) *workspace.Workspace {
	t.Helper()
	api, err := apiclient.New(apiclient.Config{BaseURL: b.apiURL()})
	if err != nil {
		t.Fatalf("api client: %v", err)
	}
	fb, err := persist.NewFile(dir)
	if err != nil {
		t.Fatalf("state dir: %v", err)
	}
	conn := wsclient.New(wsclient.Config{
		BaseURL:       b.wsURL(),
		ReconnectBase: 20 * time.Millisecond,
		Heartbeat:     time.Minute,
	})
	ws := workspace.New(workspace.Config{
		API:      api,
		Conn:     conn,
		Persist:  fb,
		Events:   events,
		Debounce: 20 * time.Millisecond,
		Offline:  offline,
	})
	if err := ws.Start(context.Background()); err != nil {
		t.Fatalf("start workspace: %v", err)
	}
	t.Cleanup(ws.Close)
	return ws
}

// pngFile returns an upload candidate holding a w x h PNG.
func pngFile(t *testing.T, name string, w, h int) store.UploadFile {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return store.UploadFile{Name: name, Data: buf.Bytes()}
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func hasToast(ws *workspace.Workspace, msg string) bool {
	for _, t := range ws.UI.Toasts() {
		if t.Message == msg {
			return true
		}
	}
	return false
}
