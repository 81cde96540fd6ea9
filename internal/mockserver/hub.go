package mockserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 1 << 20
	welcomeMessage = "WebSocket connection established"
)

// Hub serves the duplex endpoint. Each connection gets an id that a client
// may present again to resume; a resumed id replaces the older socket.
type Hub struct {
	backend  *Backend
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*peer
	wg    sync.WaitGroup
}

type peer struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// NewHub returns a hub running requests on b. Cross-origin upgrades are
// allowed when origins contains "*" or the request origin.
func NewHub(b *Backend, origins []string) *Hub {
	h := &Hub{backend: b, peers: make(map[string]*peer)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ServeWS upgrades the request and runs the connection until either side
// closes it or the base context ends.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connectionId")
	if id == "" {
		id = uuid.NewString()
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger().Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	ctx, cancel := joinContexts(baseContext(), r.Context())
	p := &peer{id: id, conn: conn, ctx: ctx, cancel: cancel}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	h.register(p)
	defer h.unregister(p)

	if err := p.send(wsclient.ConnectionEstablished{ConnectionID: id, Message: welcomeMessage}); err != nil {
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				logger().Debug().Err(err).Str("connection_id", id).Msg("ws read ended")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.dispatch(p, data)
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	old := h.peers[p.id]
	h.peers[p.id] = p
	h.mu.Unlock()
	if old != nil {
		old.cancel()
	}
	wsConnections.Inc()
	logger().Info().Str("connection_id", p.id).Bool("resumed", old != nil).Msg("ws connected")
}

func (h *Hub) unregister(p *peer) {
	p.cancel()
	h.mu.Lock()
	if h.peers[p.id] == p {
		delete(h.peers, p.id)
	}
	h.mu.Unlock()
	wsConnections.Dec()
	logger().Info().Str("connection_id", p.id).Msg("ws disconnected")
}

func (h *Hub) dispatch(p *peer, data []byte) {
	m, err := wsclient.Decode(data)
	if err != nil {
		p.notify(wsclient.ServerError{Message: "Invalid message format"})
		return
	}
	switch v := m.(type) {
	case wsclient.Ping:
		p.notify(wsclient.Pong{Timestamp: v.Timestamp})
	case wsclient.Pong:
	case wsclient.ViewModeChange:
		logger().Debug().Str("connection_id", p.id).Str("view_mode", string(v.ViewMode)).Msg("view mode changed")
	case wsclient.ParameterUpdate:
		h.spawn(func() { h.parameterUpdate(p, v) })
	case wsclient.StartSegmentation:
		h.spawn(func() { h.startSegmentation(p, v) })
	default:
		p.notify(wsclient.ServerError{Message: "Unknown message type: " + m.Type()})
	}
}

func (h *Hub) spawn(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// parameterUpdate re-runs one algorithm with the changed parameter.
func (h *Hub) parameterUpdate(p *peer, v wsclient.ParameterUpdate) {
	if v.AlgorithmName == "" || v.ParameterName == "" || v.ParameterValue == nil || v.ImageID == "" {
		p.notify(wsclient.ParameterUpdateError{Error: "Missing required parameters"})
		return
	}
	req := types.SegmentationRequest{
		ImageID: v.ImageID,
		Algorithms: []types.AlgorithmConfig{{
			Name:       v.AlgorithmName,
			Parameters: map[string]any{v.ParameterName: v.ParameterValue},
			IsActive:   true,
		}},
		ViewMode: types.ViewSingle,
	}
	resp, err := h.backend.Segment(p.ctx, req, p.notify)
	if err != nil {
		if p.ctx.Err() == nil {
			p.notify(wsclient.ParameterUpdateError{Error: err.Error()})
		}
		return
	}
	p.notify(wsclient.ParameterUpdateComplete{
		AlgorithmName:  v.AlgorithmName,
		ParameterName:  v.ParameterName,
		ParameterValue: v.ParameterValue,
		Result:         *resp,
	})
}

// startSegmentation streams a full request. Each algorithm reports its own
// start, progress and completion; a request-level failure becomes one error
// frame.
func (h *Hub) startSegmentation(p *peer, v wsclient.StartSegmentation) {
	if _, err := h.backend.Segment(p.ctx, v.Request, p.notify); err != nil && p.ctx.Err() == nil {
		p.notify(wsclient.SegmentationError{ErrorMessage: err.Error()})
	}
}

// Close drops every connection and waits for running requests to stop.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.cancel()
	}
	h.wg.Wait()
}

func (p *peer) send(m wsclient.Message) error {
	data, err := wsclient.Encode(m)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// notify sends m, logging instead of returning write failures.
func (p *peer) notify(m wsclient.Message) {
	if err := p.send(m); err != nil && p.ctx.Err() == nil {
		logger().Debug().Err(err).Str("connection_id", p.id).Str("type", m.Type()).Msg("ws send failed")
	}
}
