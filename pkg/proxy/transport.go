package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/storage"
)

var errUnsupportedTransport = errors.New("unsupported transport")

const maxResponseBytes = 16 << 20

// mcpEndpoint resolves the JSON-RPC endpoint for a registered server.
// Servers register their base URL; the envelope is served under /mcp.
func mcpEndpoint(base string) string {
	return strings.TrimSuffix(base, "/") + "/mcp"
}

// forwardTransport dispatches to the transport-specific forwarder.
func (p *Proxy) forwardTransport(ctx context.Context, target *storage.ServerRecord, req *mcp.Request) (*mcp.Response, error) {
	switch target.Transport {
	case storage.TransportHTTP:
		return p.forwardHTTP(ctx, target, req)
	case storage.TransportWebSocket:
		return p.forwardWebSocket(ctx, target, req)
	default:
		// stdio and sse back-ends cannot be reached from the gateway.
		return nil, fmt.Errorf("%w: %s", errUnsupportedTransport, target.Transport)
	}
}

func (p *Proxy) forwardHTTP(ctx context.Context, target *storage.ServerRecord, req *mcp.Request) (*mcp.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, mcpEndpoint(target.EndpointURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.pool.client(target.ID).Do(httpReq)
	if err != nil {
		// Unwrap url.Error so context errors classify correctly.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("back-end returned status %d", resp.StatusCode)
	}

	var envelope mcp.Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid back-end response: %w", err)
	}
	return &envelope, nil
}

// forwardWebSocket performs a one-shot exchange: dial, send the request,
// read one response frame, close.
func (p *Proxy) forwardWebSocket(ctx context.Context, target *storage.ServerRecord, req *mcp.Request) (*mcp.Response, error) {
	wsURL := strings.Replace(target.EndpointURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to dial back-end: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	type readResult struct {
		envelope *mcp.Response
		err      error
	}
	ch := make(chan readResult, 1)
	go func() {
		var envelope mcp.Response
		if err := conn.ReadJSON(&envelope); err != nil {
			ch <- readResult{err: fmt.Errorf("failed to read response: %w", err)}
			return
		}
		ch <- readResult{envelope: &envelope}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	case res := <-ch:
		return res.envelope, res.err
	}
}

// clientPool lazily builds one pooled HTTP client per back-end server so
// connection limits apply per server, not globally.
type clientPool struct {
	cfg     *config.ProxyConfig
	mu      sync.Mutex
	clients map[string]*http.Client
}

func newClientPool(cfg *config.ProxyConfig) *clientPool {
	return &clientPool{
		cfg:     cfg,
		clients: make(map[string]*http.Client),
	}
}

func (cp *clientPool) client(serverID string) *http.Client {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if c, ok := cp.clients[serverID]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     cp.cfg.MaxConnsPerServer,
			MaxIdleConnsPerHost: cp.cfg.MaxIdleConnsPerServer,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	cp.clients[serverID] = c
	return c
}

func (cp *clientPool) closeIdle() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for _, c := range cp.clients {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}
