package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/internal/constants"
	"github.com/chainsift/indexer/pkg/supervisor"
)

const (
	streamWriteWait  = constants.DefaultWSWriteTimeout
	streamPingPeriod = constants.DefaultWSPingInterval
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  constants.DefaultWSReadBufferSize,
	WriteBufferSize: constants.DefaultWSWriteBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusStream periodically broadcasts supervisor.Status() snapshots to
// every connected client, following the hub/broadcast-channel shape of
// pkg/api/websocket.Hub but specialized to a single fixed feed rather than
// a per-client subscription model, since there is exactly one kind of
// message this endpoint ever sends.
type StatusStream struct {
	supervisor *supervisor.Supervisor
	logger     *zap.Logger
	interval   time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte

	done chan struct{}
}

// NewStatusStream constructs a StatusStream against sup, broadcasting a
// fresh snapshot every interval.
func NewStatusStream(sup *supervisor.Supervisor, logger *zap.Logger, interval time.Duration) *StatusStream {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatusStream{
		supervisor: sup,
		logger:     logger.Named("status_stream"),
		interval:   interval,
		clients:    make(map[*websocket.Conn]chan []byte),
		done:       make(chan struct{}),
	}
}

// Run starts the periodic broadcast loop. It returns when ctx is canceled.
func (s *StatusStream) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *StatusStream) broadcast() {
	payload, err := json.Marshal(s.supervisor.Status())
	if err != nil {
		s.logger.Error("failed to marshal status snapshot", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, send := range s.clients {
		select {
		case send <- payload:
		default:
			s.logger.Warn("stream client buffer full, dropping connection")
			delete(s.clients, conn)
			close(send)
			conn.Close()
		}
	}
}

func (s *StatusStream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, send := range s.clients {
		close(send)
		conn.Close()
		delete(s.clients, conn)
	}
}

// ServeHTTP implements GET /blockchain/stream, upgrading the connection and
// pushing one status snapshot immediately, then one per broadcast tick.
func (s *StatusStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan []byte, 8)
	s.mu.Lock()
	s.clients[conn] = send
	s.mu.Unlock()

	go s.writePump(conn, send)

	initial, err := json.Marshal(s.supervisor.Status())
	if err == nil {
		select {
		case send <- initial:
		default:
		}
	}

	// ReadPump: the feed is one-directional, so the only thing worth reading
	// is the close frame; discard everything else until the client hangs up.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	if ch, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *StatusStream) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
