package feed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/observability"
)

// Default hub settings.
const (
	DefaultClientBuffer = 256
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// HubOptions configures a Hub.
type HubOptions struct {
	// ClientBuffer is the number of messages queued per subscriber before
	// new messages to that subscriber are dropped.
	ClientBuffer int
	PingInterval time.Duration
	WriteTimeout time.Duration

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// Hub fans vesting events out to websocket subscribers. Publish never blocks:
// a subscriber whose queue is full misses the message.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader
	logger   *log.Logger
	metrics  *observability.Metrics

	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type subscriber struct {
	conn   *websocket.Conn
	filter Filter
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewHub creates a hub with no subscribers.
func NewHub(opts HubOptions) *Hub {
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = DefaultClientBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: opts.Metrics,
		clients: make(map[*subscriber]struct{}),
	}
}

// Publish queues e for every subscriber whose filter matches.
func (h *Hub) Publish(e *domain.VestingEvent) {
	data, err := json.Marshal(Message{Type: MessageTypeEvent, Event: FromDomain(e)})
	if err != nil {
		h.logger.Printf("marshal event %s: %v", e.EventID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.clients {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.send <- data:
			h.metrics.RecordFeedMessage(false)
		default:
			h.metrics.RecordFeedMessage(true)
		}
	}
}

// ServeHTTP upgrades the request and subscribes the connection. Optional
// query parameters receiver and mint narrow the subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}

	s := &subscriber{
		conn: conn,
		filter: Filter{
			Receiver: r.URL.Query().Get("receiver"),
			Mint:     r.URL.Query().Get("mint"),
		},
		send: make(chan []byte, h.opts.ClientBuffer),
		done: make(chan struct{}),
	}

	if !h.register(s) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go h.writeLoop(s)
	go h.readLoop(s)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for s := range h.clients {
		s.stop()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) register(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[s] = struct{}{}
	// Close waits on wg only after setting closed under mu.
	h.wg.Add(2)
	h.metrics.SetFeedClients(len(h.clients))
	return true
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		h.metrics.SetFeedClients(len(h.clients))
	}
}

// readLoop consumes control frames so pongs and close frames are processed.
// Subscribers never send data.
func (h *Hub) readLoop(s *subscriber) {
	defer h.wg.Done()
	defer s.stop()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * h.opts.PingInterval))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer on the connection.
func (h *Hub) writeLoop(s *subscriber) {
	defer h.wg.Done()
	defer func() {
		h.unregister(s)
		s.conn.Close()
	}()

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
