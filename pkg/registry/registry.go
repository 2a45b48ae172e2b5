package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage"
)

// Errors returned by registry operations.
var (
	// ErrAlreadyRegistered indicates a server with the same name exists in
	// the tenant.
	ErrAlreadyRegistered = errors.New("server already registered")

	// ErrServerNotFound indicates the server id is unknown.
	ErrServerNotFound = errors.New("server not found")

	// ErrInvalidServer indicates the registration input failed validation.
	ErrInvalidServer = errors.New("invalid server definition")
)

// RegisterInput is the caller-supplied portion of a registration.
type RegisterInput struct {
	Name         string               `json:"name"`
	Version      string               `json:"version,omitempty"`
	EndpointURL  string               `json:"endpoint_url"`
	Transport    storage.Transport    `json:"transport_type"`
	Capabilities storage.Capabilities `json:"capabilities"`
	Tags         []string             `json:"tags,omitempty"`
	TenantID     string               `json:"tenant_id,omitempty"`
	OwnerUserID  string               `json:"owner_user_id,omitempty"`
}

// Registry is the server catalog. It validates registrations, triggers
// capability discovery, and keeps health state current through the
// prober.
type Registry struct {
	storage    storage.Storage
	discoverer *Discoverer
	prober     *Prober
	logger     *slog.Logger

	// onUnregister hooks let the router and breaker manager drop
	// per-server state when a server leaves the catalog.
	onUnregister []func(serverID string)
}

// New creates a registry over the given store.
func New(st storage.Storage, cfg *config.RegistryConfig) *Registry {
	r := &Registry{
		storage: st,
		logger:  slog.Default().With("component", "registry"),
	}
	r.discoverer = NewDiscoverer(st, cfg.DiscoveryTimeout)
	r.prober = NewProber(st, cfg)
	return r
}

// OnUnregister registers a callback invoked after a server is removed.
func (r *Registry) OnUnregister(fn func(serverID string)) {
	r.onUnregister = append(r.onUnregister, fn)
}

// Start restores probing for every persisted server. Call once at boot.
func (r *Registry) Start(ctx context.Context) error {
	servers, err := r.storage.FindServers(ctx, storage.ServerFilter{})
	if err != nil {
		return fmt.Errorf("failed to restore catalog: %w", err)
	}
	for _, srv := range servers {
		r.prober.Watch(srv.ID)
	}
	r.prober.Start(ctx)
	r.logger.Info("registry started", "servers", len(servers))
	return nil
}

// Stop halts all probe loops.
func (r *Registry) Stop() {
	r.prober.Stop()
}

// Register validates and persists a new server, then attempts capability
// discovery. Discovery failures never fail the registration.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*storage.ServerRecord, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &storage.ServerRecord{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Version:      in.Version,
		EndpointURL:  in.EndpointURL,
		Transport:    in.Transport,
		Capabilities: in.Capabilities,
		Tags:         in.Tags,
		TenantID:     in.TenantID,
		OwnerUserID:  in.OwnerUserID,
		HealthStatus: storage.HealthUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.storage.RegisterServer(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateServer) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	r.logger.Info("server registered",
		"server_id", rec.ID,
		"name", rec.Name,
		"transport", rec.Transport,
		"tenant_id", rec.TenantID,
	)

	r.discoverer.Discover(ctx, rec)
	r.prober.Watch(rec.ID)

	return rec, nil
}

// Update rewrites the mutable fields of a registered server.
func (r *Registry) Update(ctx context.Context, rec *storage.ServerRecord) (*storage.ServerRecord, error) {
	if rec.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidServer)
	}
	if err := r.storage.UpdateServer(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrServerNotFound
		}
		if errors.Is(err, storage.ErrDuplicateServer) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	return r.storage.GetServer(ctx, rec.ID)
}

// Unregister removes a server and tears down its derived state.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if err := r.storage.DeleteServer(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrServerNotFound
		}
		return err
	}

	r.prober.Unwatch(id)
	for _, fn := range r.onUnregister {
		fn(id)
	}
	r.logger.Info("server unregistered", "server_id", id)
	return nil
}

// Get returns one server by id, hydrated with tools and resources.
func (r *Registry) Get(ctx context.Context, id string) (*storage.ServerRecord, error) {
	rec, err := r.storage.GetServer(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrServerNotFound
	}
	return rec, err
}

// Find returns servers matching the filter.
func (r *Registry) Find(ctx context.Context, filter storage.ServerFilter) ([]*storage.ServerRecord, error) {
	return r.storage.FindServers(ctx, filter)
}

// UpdateHealth records a probe result for a server.
func (r *Registry) UpdateHealth(ctx context.Context, id string, status storage.HealthStatus) error {
	err := r.storage.MarkServerHealth(ctx, id, status, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return ErrServerNotFound
	}
	return err
}

// Rediscover re-runs capability discovery for one server on demand.
func (r *Registry) Rediscover(ctx context.Context, id string) error {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	r.discoverer.Discover(ctx, rec)
	return nil
}

func validateInput(in RegisterInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidServer)
	}
	if in.EndpointURL == "" {
		return fmt.Errorf("%w: endpoint_url is required", ErrInvalidServer)
	}
	u, err := url.Parse(in.EndpointURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: endpoint_url %q is not a valid URL", ErrInvalidServer, in.EndpointURL)
	}
	switch in.Transport {
	case storage.TransportHTTP, storage.TransportWebSocket,
		storage.TransportStdio, storage.TransportSSE:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidServer, in.Transport)
	}
	return nil
}
