package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devicetest/dltcos/internal/api"
	"github.com/devicetest/dltcos/internal/pipeline"
	"github.com/devicetest/dltcos/internal/store"
)

const (
	writeWait = 10 * time.Second

	// A client that sends no pong within pongWait is dropped. Pings go out
	// every pingPeriod, which must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients never send data frames; anything larger ends the connection.
	maxInbound = 512

	queueDepth = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	// CORS is left to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventReport   = "report"
)

// Message is the JSON envelope sent to clients.
//
// A "snapshot" carries a Snapshot and is sent on connect and on every tick.
// A "report" carries the full *pipeline.Report of a batch that was just
// processed.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Snapshot is the per-cell summary set broadcast on every tick.
type Snapshot struct {
	GeneratedAt string            `json:"generated_at"`
	Cells       []api.CellSummary `json:"cells"`
}

// Hub fans report updates out to WebSocket subscribers.
//
// A subscriber connecting with ?cell=ID only receives that cell: its
// snapshots hold at most one summary and reports of other cells are not
// sent. Without the parameter every cell is streamed.
type Hub struct {
	store    *store.Store
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	cell  string // "" follows every cell
}

func (s *subscriber) follows(cell string) bool { return s.cell == "" || s.cell == cell }

// New creates a Hub that reads from st and broadcasts every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		now:      time.Now,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run broadcasts a snapshot every interval until ctx is cancelled, then
// closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-t.C:
			h.broadcastSnapshot()
		}
	}
}

// Publish pushes rep to its cell's subscribers straight away, without
// waiting for the next tick.
func (h *Hub) Publish(rep *pipeline.Report) {
	data, err := json.Marshal(Message{Event: EventReport, Data: rep})
	if err != nil {
		slog.Error("ws: encode report", "cell", rep.CellID, "err", err)
		return
	}
	h.fanOut(func(s *subscriber) []byte {
		if !s.follows(rep.CellID) {
			return nil
		}
		return data
	})
}

// ServeHTTP upgrades the request, sends the current snapshot and then streams
// updates until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := &subscriber{
		conn:  conn,
		queue: make(chan []byte, queueDepth),
		cell:  r.URL.Query().Get("cell"),
	}
	if data, err := h.encodeSnapshot(h.snapshot(), s.cell); err == nil {
		s.queue <- data
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	defer h.drop(s)

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) snapshot() Snapshot {
	return Snapshot{
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
		Cells:       api.BuildCells(h.store),
	}
}

// encodeSnapshot marshals snap, narrowed to cell when it is not empty.
func (h *Hub) encodeSnapshot(snap Snapshot, cell string) ([]byte, error) {
	if cell != "" {
		narrowed := snap
		narrowed.Cells = []api.CellSummary{}
		for _, c := range snap.Cells {
			if c.CellID == cell {
				narrowed.Cells = append(narrowed.Cells, c)
			}
		}
		snap = narrowed
	}
	return json.Marshal(Message{Event: EventSnapshot, Data: snap})
}

// broadcastSnapshot builds one snapshot and encodes it once per distinct
// cell filter.
func (h *Hub) broadcastSnapshot() {
	snap := h.snapshot()
	encoded := make(map[string][]byte)
	h.fanOut(func(s *subscriber) []byte {
		data, ok := encoded[s.cell]
		if !ok {
			var err error
			if data, err = h.encodeSnapshot(snap, s.cell); err != nil {
				slog.Error("ws: encode snapshot", "err", err)
			}
			encoded[s.cell] = data
		}
		return data
	})
}

// fanOut queues payload(s) on every subscriber; a nil payload skips it.
// Subscribers whose queue is full are dropped. Queuing happens under the
// read lock so it cannot race with drop closing the queue.
func (h *Hub) fanOut(payload func(*subscriber) []byte) {
	var stalled []*subscriber

	h.mu.RLock()
	for s := range h.subs {
		data := payload(s)
		if data == nil {
			continue
		}
		select {
		case s.queue <- data:
		default:
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stalled {
		slog.Warn("ws: subscriber too slow, disconnecting", "remote", s.conn.RemoteAddr().String())
		h.drop(s)
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.queue)
	}
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.queue)
	}
}

// writeLoop owns all writes to the connection: queued messages, pings and
// the final close frame once the queue is closed.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, open := <-s.queue:
			if !open {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))   //nolint:errcheck
				s.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ping.C:
			kind = websocket.PingMessage
		}

		s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
		if err := s.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

// readLoop keeps the read deadline alive on pongs and returns once the
// connection fails or the peer closes it.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxInbound)
	s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}
