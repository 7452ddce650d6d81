package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fentz26/pacer/internal/logging"
)

// Status is the follower's view of the transport.
type Status string

const (
	StatusConnected   Status = "connected"
	StatusUnavailable Status = "unavailable"
)

// Handler receives decoded envelopes.
type Handler func(Envelope)

// StatusHandler is told about transport status changes.
type StatusHandler func(Status)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the source control plane, e.g. http://127.0.0.1:7842.
	BaseURL    string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the follower end of the sync channel.
type Client struct {
	cfg      ClientConfig
	base     *url.URL
	logger   *slog.Logger
	onEnv    Handler
	onStatus StatusHandler

	mu     sync.Mutex
	status Status
}

// NewClient validates cfg and returns a client. Call Run to connect.
func NewClient(cfg ClientConfig, onEnv Handler, onStatus StatusHandler) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("source url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if onEnv == nil {
		onEnv = func(Envelope) {}
	}
	if onStatus == nil {
		onStatus = func(Status) {}
	}
	return &Client{
		cfg:      cfg,
		base:     base,
		logger:   logging.NewComponentLogger(cfg.Logger, "link-client"),
		onEnv:    onEnv,
		onStatus: onStatus,
		status:   StatusUnavailable,
	}, nil
}

// Status returns the last reported transport status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run keeps a connection to the hub until ctx is cancelled, reconnecting
// with capped exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setStatus(StatusUnavailable)
			return nil
		}
		c.setStatus(StatusUnavailable)
		if connected {
			backoff = c.cfg.MinBackoff
		}
		c.logger.Debug("sync link down", logging.Error(err), logging.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, c.wsURL(), nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	c.setStatus(StatusConnected)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
		env, err := Decode(data)
		if err != nil {
			c.logger.Warn("discarding sync frame", logging.Error(err))
			continue
		}
		c.onEnv(env)
	}
}

// DrainMailbox fetches durable envelopes queued at the source.
func (c *Client) DrainMailbox(ctx context.Context) ([]Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/sync/mailbox/drain", nil)
	if err != nil {
		return nil, fmt.Errorf("build drain request: %w", err)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: drain returned %s", ErrTransportUnavailable, resp.Status)
	}

	var body drainResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode drain response: %w", err)
	}
	envs := make([]Envelope, 0, len(body.Frames))
	for _, frame := range body.Frames {
		env, err := Decode(frame)
		if err != nil {
			c.logger.Warn("discarding durable frame", logging.Error(err))
			continue
		}
		env.Durable = true
		envs = append(envs, env)
	}
	return envs, nil
}

// IsUnavailable reports whether err is a transport failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sync/ws"
	return u.String()
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		c.onStatus(s)
	}
}
