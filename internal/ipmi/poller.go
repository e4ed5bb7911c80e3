package ipmi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const defaultRejectMessage = "bridge reported failure"

// Poller fetches the status document for one BMC and caches the last
// successful result.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent Update calls race benignly: the last one to finish wins.
type Poller struct {
	conn   ConnectionConfig
	client *Client
	now    func() time.Time
	logger Logger

	mu      sync.RWMutex
	current *Snapshot
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger.
func WithPollerLogger(l Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source used for Snapshot.FetchedAt.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPoller creates a poller for conn. No request is made until Update.
func NewPoller(conn ConnectionConfig, client *Client, opts ...PollerOption) (*Poller, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	p := &Poller{
		conn:   conn,
		client: client,
		now:    time.Now,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Update performs one status fetch.
//
// On success the new snapshot replaces the cached one wholesale and is
// returned. On failure the cached snapshot is left as it was and the error
// is a *TransportError or *BridgeRejectedError.
func (p *Poller) Update(ctx context.Context) (Snapshot, error) {
	resp, err := p.client.get(ctx, p.conn, "")
	if err != nil {
		return Snapshot{}, &TransportError{Host: p.conn.Host, Err: err}
	}

	var doc statusResponse
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return Snapshot{}, &TransportError{
			Host: p.conn.Host,
			Err:  fmt.Errorf("decoding status response (http %d): %w", resp.status, err),
		}
	}

	if !doc.Success {
		msg := doc.Message
		if msg == "" {
			msg = defaultRejectMessage
			if resp.status >= http.StatusBadRequest {
				msg = fmt.Sprintf("%s (http %d)", msg, resp.status)
			}
		}
		return Snapshot{}, &BridgeRejectedError{Host: p.conn.Host, Message: msg}
	}

	snap := doc.snapshot(p.conn.Alias, p.now())

	p.mu.Lock()
	p.current = &snap
	p.mu.Unlock()

	p.logger.Debug("ipmi status updated",
		"host", p.conn.Host,
		"power_on", snap.PowerOn,
		"readings", len(snap.States),
	)

	return snap.Clone(), nil
}

// Current returns the last successfully fetched snapshot.
// The bool is false until the first successful Update.
func (p *Poller) Current() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return Snapshot{}, false
	}
	return p.current.Clone(), true
}

// Name returns the alias, or "IPMI-<host>" when none is configured.
func (p *Poller) Name() string {
	return p.conn.Name()
}

// Config returns the connection parameters.
func (p *Poller) Config() ConnectionConfig {
	return p.conn
}
