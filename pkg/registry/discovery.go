package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/storage"
)

// Discoverer queries a freshly registered server for its tools and
// resources and merges the results into the catalog. Discovery is
// best-effort: a server that does not answer keeps its advertised
// capabilities.
type Discoverer struct {
	storage storage.Storage
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewDiscoverer creates a discoverer with the given per-call timeout.
func NewDiscoverer(st storage.Storage, timeout time.Duration) *Discoverer {
	return &Discoverer{
		storage: st,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "registry.discovery"),
	}
}

// Discover runs tools/list and resources/list against the server and
// stores the results. Only HTTP-reachable transports are queried.
func (d *Discoverer) Discover(ctx context.Context, rec *storage.ServerRecord) {
	switch rec.Transport {
	case storage.TransportHTTP, storage.TransportSSE:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if tools, err := d.listTools(ctx, rec.EndpointURL); err != nil {
		d.logger.Warn("tool discovery failed",
			"server_id", rec.ID, "error", err)
	} else if len(tools) > 0 {
		rows := make([]storage.ToolRecord, 0, len(tools))
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			rows = append(rows, storage.ToolRecord{
				ServerID:    rec.ID,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: string(t.InputSchema),
			})
			names = append(names, t.Name)
		}
		if err := d.storage.ReplaceTools(ctx, rec.ID, rows); err != nil {
			d.logger.Warn("failed to store discovered tools",
				"server_id", rec.ID, "error", err)
		} else {
			rec.Capabilities.Tools = mergeNames(rec.Capabilities.Tools, names)
			d.logger.Info("tools discovered",
				"server_id", rec.ID, "count", len(rows))
		}
	}

	if resources, err := d.listResources(ctx, rec.EndpointURL); err != nil {
		d.logger.Warn("resource discovery failed",
			"server_id", rec.ID, "error", err)
	} else if len(resources) > 0 {
		rows := make([]storage.ResourceRecord, 0, len(resources))
		uris := make([]string, 0, len(resources))
		for _, r := range resources {
			rows = append(rows, storage.ResourceRecord{
				ServerID:    rec.ID,
				URITemplate: r.URI,
				MimeType:    r.MimeType,
				Description: r.Description,
			})
			uris = append(uris, r.URI)
		}
		if err := d.storage.ReplaceResources(ctx, rec.ID, rows); err != nil {
			d.logger.Warn("failed to store discovered resources",
				"server_id", rec.ID, "error", err)
		} else {
			rec.Capabilities.Resources = mergeNames(rec.Capabilities.Resources, uris)
			d.logger.Info("resources discovered",
				"server_id", rec.ID, "count", len(rows))
		}
	}

	if err := d.storage.UpdateServer(ctx, rec); err != nil {
		d.logger.Warn("failed to persist discovered capabilities",
			"server_id", rec.ID, "error", err)
	}
}

func (d *Discoverer) listTools(ctx context.Context, endpoint string) ([]mcp.Tool, error) {
	var result mcp.ToolsListResult
	if err := d.call(ctx, endpoint, mcp.MethodToolsList, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (d *Discoverer) listResources(ctx context.Context, endpoint string) ([]mcp.Resource, error) {
	var result mcp.ResourcesListResult
	if err := d.call(ctx, endpoint, mcp.MethodResourcesList, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

func (d *Discoverer) call(ctx context.Context, endpoint, method string, result any) error {
	body, err := json.Marshal(mcp.Request{
		JSONRPC: mcp.Version,
		ID:      json.RawMessage(`1`),
		Method:  method,
	})
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(endpoint, "/") + "/mcp"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var envelope mcp.Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("invalid response envelope: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s failed: %s", method, envelope.Error.Message)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("invalid %s result: %w", method, err)
	}
	return nil
}

func mergeNames(existing, discovered []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(discovered))
	out := make([]string, 0, len(existing)+len(discovered))
	for _, lists := range [][]string{existing, discovered} {
		for _, n := range lists {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}
