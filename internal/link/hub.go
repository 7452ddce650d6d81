package link

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/fentz26/pacer/internal/logging"
)

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 2 * time.Second
	defaultDrainLimit   = 32
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Buffer is the per-follower queue size, applied separately to structural
	// and time-only frames. Frames beyond it are dropped.
	Buffer       int
	WriteTimeout time.Duration
	Mailbox      Mailbox
	Logger       *slog.Logger
}

// Hub is the source end of the sync channel. It serves the websocket
// endpoint and keeps at most one follower: a new connection replaces the
// previous one.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger

	mu      sync.Mutex
	greeter Greeter
	current *peer
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

type peer struct {
	id uint64
	// structural frames are written before any queued time-only frame.
	structural chan []byte
	timeOnly   chan []byte
	done       chan struct{}
	once       sync.Once
}

func newPeer(id uint64, buffer int) *peer {
	return &peer{
		id:         id,
		structural: make(chan []byte, buffer),
		timeOnly:   make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
}

// pending returns the next queued frame without blocking.
func (p *peer) pending() ([]byte, bool) {
	select {
	case frame := <-p.structural:
		return frame, true
	default:
	}
	select {
	case frame := <-p.timeOnly:
		return frame, true
	default:
	}
	return nil, false
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// NewHub creates a hub with no follower.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{cfg: cfg, logger: logging.NewComponentLogger(cfg.Logger, "hub")}
}

// SetGreeter installs the source of greeting envelopes.
func (h *Hub) SetGreeter(g Greeter) {
	h.mu.Lock()
	h.greeter = g
	h.mu.Unlock()
}

// Connected reports whether a follower is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// Dropped returns how many frames were discarded on full buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Send queues env for the connected follower without blocking. It is a
// no-op when no follower is attached.
func (h *Hub) Send(env Envelope) {
	frame, err := Encode(env)
	if err != nil {
		h.logger.Error("encode sync frame", logging.Error(err))
		return
	}
	h.mu.Lock()
	p := h.current
	h.mu.Unlock()
	if p == nil {
		return
	}
	h.enqueue(p, frame, env.Message.Kind())
}

// SendDurable stores env in the mailbox for later pickup.
func (h *Hub) SendDurable(env Envelope) error {
	if h.cfg.Mailbox == nil {
		return nil
	}
	env.Durable = true
	return h.cfg.Mailbox.Put(context.Background(), env)
}

// Retract purges the mailbox of sessionID's durable envelopes.
func (h *Hub) Retract(sessionID string) error {
	if h.cfg.Mailbox == nil {
		return nil
	}
	return h.cfg.Mailbox.Purge(context.Background(), sessionID)
}

// Close detaches the current follower.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		h.current.close()
		h.current = nil
	}
}

func (h *Hub) enqueue(p *peer, frame []byte, kind Kind) {
	queue := p.timeOnly
	if kind.Structural() {
		queue = p.structural
	}
	select {
	case queue <- frame:
	default:
		h.dropped.Add(1)
		h.logger.Debug("dropped sync frame", logging.String("type", string(kind)))
	}
}

// ServeHTTP upgrades the request and streams frames until the follower
// disconnects or is replaced.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Warn("accept follower", logging.Error(err))
		return
	}
	defer conn.CloseNow()

	p := newPeer(h.nextID.Add(1), h.cfg.Buffer)

	// Greeting frames are queued under the lock so no live frame can
	// overtake them.
	h.mu.Lock()
	if h.current != nil {
		h.current.close()
	}
	h.current = p
	if h.greeter != nil {
		for _, env := range h.greeter.Greeting() {
			frame, err := Encode(env)
			if err != nil {
				h.logger.Error("encode greeting", logging.Error(err))
				continue
			}
			h.enqueue(p, frame, env.Message.Kind())
		}
	}
	h.mu.Unlock()
	h.logger.Info("follower connected", logging.Uint64("peer", p.id), logging.String("remote", r.RemoteAddr))

	defer func() {
		h.mu.Lock()
		if h.current == p {
			h.current = nil
		}
		h.mu.Unlock()
		h.logger.Info("follower disconnected", logging.Uint64("peer", p.id), logging.Uint64("dropped", h.Dropped()))
	}()

	ctx := conn.CloseRead(r.Context())
	for {
		frame, ok := p.pending()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				conn.Close(websocket.StatusGoingAway, "replaced")
				return
			case frame = <-p.structural:
			case frame = <-p.timeOnly:
			}
		}
		select {
		case <-p.done:
			conn.Close(websocket.StatusGoingAway, "replaced")
			return
		default:
		}

		wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
		err := conn.Write(wctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			h.logger.Warn("write sync frame", logging.Error(err))
			return
		}
	}
}

type drainResponse struct {
	Frames []json.RawMessage `json:"frames"`
}

// DrainHandler serves queued durable envelopes and removes them from mb.
func DrainHandler(mb Mailbox, logger *slog.Logger) http.Handler {
	logger = logging.NewComponentLogger(logger, "mailbox")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		envs, err := mb.Drain(r.Context(), defaultDrainLimit)
		if err != nil {
			logger.Error("drain mailbox", logging.Error(err))
			http.Error(w, "drain failed", http.StatusInternalServerError)
			return
		}
		resp := drainResponse{Frames: make([]json.RawMessage, 0, len(envs))}
		for _, env := range envs {
			frame, err := Encode(env)
			if err != nil {
				logger.Error("encode durable frame", logging.Error(err))
				continue
			}
			resp.Frames = append(resp.Frames, frame)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
