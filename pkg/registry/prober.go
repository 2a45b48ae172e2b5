package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage"
)

// HealthChecker probes one server and reports its health. The default
// implementation is transport-aware; tests substitute their own.
type HealthChecker interface {
	Check(ctx context.Context, rec *storage.ServerRecord) storage.HealthStatus
}

// Prober runs one probe loop per watched server. Each loop probes at the
// configured interval, records the result, and restarts with backoff if
// it panics.
type Prober struct {
	storage  storage.Storage
	cfg      *config.RegistryConfig
	checker  HealthChecker
	logger   *slog.Logger
	mu       sync.Mutex
	watched  map[string]context.CancelFunc
	parent   context.Context
	started  bool
	wg       sync.WaitGroup
}

// NewProber creates a prober with the default transport-aware checker.
func NewProber(st storage.Storage, cfg *config.RegistryConfig) *Prober {
	return &Prober{
		storage: st,
		cfg:     cfg,
		checker: &transportChecker{timeout: cfg.ProbeTimeout},
		logger:  slog.Default().With("component", "registry.prober"),
		watched: make(map[string]context.CancelFunc),
	}
}

// SetChecker replaces the health checker. Call before Start.
func (p *Prober) SetChecker(c HealthChecker) { p.checker = c }

// Start launches loops for every server watched so far and accepts new
// watches afterwards.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.parent = ctx
	p.started = true
	for id, cancel := range p.watched {
		if cancel == nil {
			p.launchLocked(id)
		}
	}
}

// Stop cancels every probe loop and waits for them to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	for _, cancel := range p.watched {
		if cancel != nil {
			cancel()
		}
	}
	p.watched = make(map[string]context.CancelFunc)
	p.started = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Watch begins probing a server. Before Start the watch is queued.
func (p *Prober) Watch(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.watched[serverID]; ok {
		return
	}
	p.watched[serverID] = nil
	if p.started {
		p.launchLocked(serverID)
	}
}

// Unwatch stops probing a server.
func (p *Prober) Unwatch(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cancel, ok := p.watched[serverID]; ok {
		if cancel != nil {
			cancel()
		}
		delete(p.watched, serverID)
	}
}

func (p *Prober) launchLocked(serverID string) {
	ctx, cancel := context.WithCancel(p.parent)
	p.watched[serverID] = cancel

	p.wg.Add(1)
	go p.loop(ctx, serverID)
}

func (p *Prober) loop(ctx context.Context, serverID string) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe loop panicked, restarting",
				"server_id", serverID, "panic", r)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.ProbeInterval):
			}
			p.wg.Add(1)
			go p.loop(ctx, serverID)
		}
	}()

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	p.probeOnce(ctx, serverID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, serverID)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, serverID string) {
	rec, err := p.storage.GetServer(ctx, serverID)
	if err != nil {
		p.logger.Debug("probe skipped, server gone", "server_id", serverID)
		return
	}

	// Manual maintenance mode is operator-owned; probes leave it alone.
	if rec.HealthStatus == storage.HealthMaintenance {
		return
	}

	status := p.checker.Check(ctx, rec)
	if err := p.storage.MarkServerHealth(ctx, serverID, status, time.Now().UTC()); err != nil {
		p.logger.Warn("failed to record probe result",
			"server_id", serverID, "error", err)
		return
	}
	if status != rec.HealthStatus {
		p.logger.Info("server health changed",
			"server_id", serverID,
			"from", rec.HealthStatus,
			"to", status,
		)
	}
}

// transportChecker probes per transport: an HTTP health endpoint for
// http/sse, a control ping for websocket, and UNKNOWN for stdio which
// the gateway cannot reach.
type transportChecker struct {
	timeout time.Duration
}

func (c *transportChecker) Check(ctx context.Context, rec *storage.ServerRecord) storage.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch rec.Transport {
	case storage.TransportHTTP, storage.TransportSSE:
		return c.checkHTTP(ctx, rec.EndpointURL)
	case storage.TransportWebSocket:
		return c.checkWebSocket(ctx, rec.EndpointURL)
	default:
		return storage.HealthUnknown
	}
}

func (c *transportChecker) checkHTTP(ctx context.Context, endpoint string) storage.HealthStatus {
	u, err := url.Parse(endpoint)
	if err != nil {
		return storage.HealthUnhealthy
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return storage.HealthUnhealthy
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return storage.HealthUnhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storage.HealthUnhealthy
	}

	var body struct {
		Status string `json:"status"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || json.Unmarshal(raw, &body) != nil || body.Status != "ok" {
		// Reachable but not reporting a clean status.
		return storage.HealthDegraded
	}
	return storage.HealthHealthy
}

func (c *transportChecker) checkWebSocket(ctx context.Context, endpoint string) storage.HealthStatus {
	wsURL := strings.Replace(endpoint, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return storage.HealthUnhealthy
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	pong := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})
	if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return storage.HealthUnhealthy
	}

	conn.SetReadDeadline(deadline)
	go conn.ReadMessage()

	select {
	case <-pong:
		return storage.HealthHealthy
	case <-ctx.Done():
		return storage.HealthUnhealthy
	case <-time.After(time.Until(deadline)):
		return storage.HealthUnhealthy
	}
}
