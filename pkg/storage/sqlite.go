package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stellar-hq/hermes/pkg/config"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStorage opens (or creates) the gateway database, applies the
// schema, and configures the connection pool.
func NewSQLiteStorage(cfg *config.StorageConfig) (*SQLiteStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is nil")
	}

	logger := slog.Default().With("component", "storage.sqlite")

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", cfg.Path, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	s := &SQLiteStorage{db: db, logger: logger}

	if err := s.initialize(cfg); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite storage initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
		"max_open_conns", cfg.MaxOpenConns,
	)

	return s, nil
}

func (s *SQLiteStorage) initialize(cfg *config.StorageConfig) error {
	if cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version) VALUES (?)", SchemaVersion,
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ----------------------------------------------------------------------------
// Servers
// ----------------------------------------------------------------------------

// RegisterServer inserts a new server record. Returns ErrDuplicateServer
// when (tenant, name) already exists.
func (s *SQLiteStorage) RegisterServer(ctx context.Context, rec *ServerRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers (
			id, name, version, endpoint_url, transport, capabilities, tags,
			tenant_id, owner_user_id, health_status, last_health_check,
			avg_response_ms, success_rate, active_connections,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Version, rec.EndpointURL, string(rec.Transport),
		string(caps), string(tags), nullable(rec.TenantID), nullable(rec.OwnerUserID),
		string(rec.HealthStatus), nullableTime(rec.LastHealthCheck),
		rec.Perf.AvgResponseMs, rec.Perf.SuccessRate, rec.Perf.ActiveConnections,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateServer
		}
		return fmt.Errorf("failed to insert server: %w", err)
	}
	return nil
}

// UpdateServer rewrites the mutable fields of a server record. The endpoint
// URL is deliberately not part of the update set.
func (s *SQLiteStorage) UpdateServer(ctx context.Context, rec *ServerRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET
			name = ?, version = ?, capabilities = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		rec.Name, rec.Version, string(caps), string(tags), time.Now().UTC(), rec.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateServer
		}
		return fmt.Errorf("failed to update server: %w", err)
	}
	return requireRow(res)
}

// DeleteServer removes a server and, via cascade, its tools and resources.
func (s *SQLiteStorage) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	return requireRow(res)
}

// GetServer returns one server by id, always hydrated.
func (s *SQLiteStorage) GetServer(ctx context.Context, id string) (*ServerRecord, error) {
	row := s.db.QueryRowContext(ctx, serverSelect+" WHERE id = ?", id)
	rec, err := scanServer(row)
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

const serverSelect = `
	SELECT id, name, version, endpoint_url, transport, capabilities, tags,
	       tenant_id, owner_user_id, health_status, last_health_check,
	       avg_response_ms, success_rate, active_connections,
	       created_at, updated_at
	FROM servers`

// FindServers returns the servers matching the filter. Tenant and health
// filters are pushed into SQL; tag, tool, and resource matching happens
// over the decoded capability sets.
func (s *SQLiteStorage) FindServers(ctx context.Context, filter ServerFilter) ([]*ServerRecord, error) {
	query := serverSelect
	var conds []string
	var args []any

	if filter.TenantID != nil {
		if *filter.TenantID == "" {
			conds = append(conds, "tenant_id IS NULL")
		} else {
			conds = append(conds, "tenant_id = ?")
			args = append(args, *filter.TenantID)
		}
	}
	if filter.HealthStatus != nil {
		conds = append(conds, "health_status = ?")
		args = append(args, string(*filter.HealthStatus))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query servers: %w", err)
	}
	defer rows.Close()

	var out []*ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate servers: %w", err)
	}

	// Capability matching needs the owned tool/resource rows in addition
	// to the advertised descriptor.
	needCaps := len(filter.Tools) > 0 || len(filter.ResourcePrefixes) > 0
	var matched []*ServerRecord
	for _, rec := range out {
		if needCaps || filter.Hydrate {
			if err := s.hydrate(ctx, rec); err != nil {
				return nil, err
			}
		}
		if !MatchesFilter(rec, filter) {
			continue
		}
		if !filter.Hydrate {
			rec.Tools = nil
			rec.Resources = nil
		}
		matched = append(matched, rec)
	}
	return matched, nil
}

// MarkServerHealth updates the probe-owned health fields.
func (s *SQLiteStorage) MarkServerHealth(ctx context.Context, id string, status HealthStatus, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET health_status = ?, last_health_check = ?, updated_at = ?
		WHERE id = ?`,
		string(status), checkedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark health: %w", err)
	}
	return requireRow(res)
}

// UpdateServerPerf refreshes the advisory cached performance snapshot.
func (s *SQLiteStorage) UpdateServerPerf(ctx context.Context, id string, perf PerfSnapshot) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET avg_response_ms = ?, success_rate = ?, active_connections = ?
		WHERE id = ?`,
		perf.AvgResponseMs, perf.SuccessRate, perf.ActiveConnections, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update perf snapshot: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStorage) hydrate(ctx context.Context, rec *ServerRecord) error {
	tools, err := s.listTools(ctx, rec.ID)
	if err != nil {
		return err
	}
	resources, err := s.listResources(ctx, rec.ID)
	if err != nil {
		return err
	}
	rec.Tools = tools
	rec.Resources = resources
	return nil
}

// ----------------------------------------------------------------------------
// Capabilities
// ----------------------------------------------------------------------------

// ReplaceTools swaps the owned tool set of a server in one transaction.
func (s *SQLiteStorage) ReplaceTools(ctx context.Context, serverID string, tools []ToolRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tools WHERE server_id = ?", serverID); err != nil {
		return fmt.Errorf("failed to clear tools: %w", err)
	}
	for _, t := range tools {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tools (server_id, name, description, input_schema, call_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			serverID, t.Name, t.Description, t.InputSchema, t.CallCount, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert tool %q: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

// ReplaceResources swaps the owned resource set of a server in one
// transaction.
func (s *SQLiteStorage) ReplaceResources(ctx context.Context, serverID string, resources []ResourceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM resources WHERE server_id = ?", serverID); err != nil {
		return fmt.Errorf("failed to clear resources: %w", err)
	}
	for _, r := range resources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resources (server_id, uri_template, mime_type, description, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			serverID, r.URITemplate, r.MimeType, r.Description, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert resource %q: %w", r.URITemplate, err)
		}
	}
	return tx.Commit()
}

// IncrementToolCall bumps the append-only usage counter of a tool.
func (s *SQLiteStorage) IncrementToolCall(ctx context.Context, serverID, tool string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tools SET call_count = call_count + 1 WHERE server_id = ? AND name = ?",
		serverID, tool,
	)
	if err != nil {
		return fmt.Errorf("failed to increment tool call count: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) listTools(ctx context.Context, serverID string) ([]ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, name, description, input_schema, call_count, created_at
		FROM tools WHERE server_id = ? ORDER BY name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	var out []ToolRecord
	for rows.Next() {
		var t ToolRecord
		var desc, schema sql.NullString
		if err := rows.Scan(&t.ServerID, &t.Name, &desc, &schema, &t.CallCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		t.Description = desc.String
		t.InputSchema = schema.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) listResources(ctx context.Context, serverID string) ([]ResourceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, uri_template, mime_type, description, created_at
		FROM resources WHERE server_id = ? ORDER BY uri_template`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var out []ResourceRecord
	for rows.Next() {
		var r ResourceRecord
		var mime, desc sql.NullString
		if err := rows.Scan(&r.ServerID, &r.URITemplate, &mime, &desc, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		r.MimeType = mime.String
		r.Description = desc.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Tenants and users
// ----------------------------------------------------------------------------

func (s *SQLiteStorage) CreateTenant(ctx context.Context, t *Tenant) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tenants (id, name, status, created_at) VALUES (?, ?, ?, ?)",
		t.ID, t.Name, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	var status string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, status, created_at FROM tenants WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	t.Status = TenantStatus(status)
	return &t, nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, role, tenant_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.ID, u.Email, u.Name, string(u.Role), nullable(u.TenantID), u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var email, name, tenant sql.NullString
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, role, tenant_id, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &email, &name, &role, &tenant, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = email.String
	u.Name = name.String
	u.Role = Role(role)
	u.TenantID = tenant.String
	return &u, nil
}

// ----------------------------------------------------------------------------
// API keys
// ----------------------------------------------------------------------------

func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, k *APIKey) error {
	scopes, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, prefix, hash, user_id, tenant_id, scopes,
			rate_limit, expires_at, enabled, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Prefix, k.Hash, k.UserID, nullable(k.TenantID), string(scopes),
		k.RateLimit, k.ExpiresAt, k.Enabled, k.LastUsedAt, k.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// LookupAPIKeyByHash joins the key row with its owning user. Disabled and
// expired keys are still returned; the caller enforces those checks so it
// can distinguish "unknown" from "expired" in audit events.
func (s *SQLiteStorage) LookupAPIKeyByHash(ctx context.Context, hash string) (*APIKeyWithUser, error) {
	var k APIKey
	var u User
	var keyTenant, scopes sql.NullString
	var email, uname, userTenant sql.NullString
	var role string
	var expires, lastUsed sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT k.id, k.prefix, k.hash, k.user_id, k.tenant_id, k.scopes,
		       k.rate_limit, k.expires_at, k.enabled, k.last_used_at, k.created_at,
		       u.id, u.email, u.name, u.role, u.tenant_id, u.created_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.hash = ?`, hash,
	).Scan(
		&k.ID, &k.Prefix, &k.Hash, &k.UserID, &keyTenant, &scopes,
		&k.RateLimit, &expires, &k.Enabled, &lastUsed, &k.CreatedAt,
		&u.ID, &email, &uname, &role, &userTenant, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	k.TenantID = keyTenant.String
	if scopes.Valid && scopes.String != "" {
		if err := json.Unmarshal([]byte(scopes.String), &k.Scopes); err != nil {
			return nil, fmt.Errorf("failed to decode scopes: %w", err)
		}
	}
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	u.Email = email.String
	u.Name = uname.String
	u.Role = Role(role)
	u.TenantID = userTenant.String

	return &APIKeyWithUser{Key: k, User: u}, nil
}

func (s *SQLiteStorage) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", usedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

// AppendRequestLog writes one audit row. Callers on the request path treat
// errors as best-effort: log and continue.
func (s *SQLiteStorage) AppendRequestLog(ctx context.Context, row *RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log (
			id, request_id, tenant_id, user_id, method, server_id,
			client_ip, user_agent, started_at, finished_at, duration_ms,
			success, status_code, error_code, error_message, params, response
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.RequestID, nullable(row.TenantID), nullable(row.UserID),
		row.Method, nullable(row.ServerID), nullable(row.ClientIP),
		nullable(row.UserAgent), row.StartedAt, row.FinishedAt, row.DurationMs,
		row.Success, row.StatusCode, nullable(row.ErrorCode),
		nullable(row.ErrorMessage), nullable(row.Params), nullable(row.Response),
	)
	if err != nil {
		return fmt.Errorf("failed to append request log: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListRequestLogs(ctx context.Context, limit int) ([]*RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, tenant_id, user_id, method, server_id,
		       client_ip, user_agent, started_at, finished_at, duration_ms,
		       success, status_code, error_code, error_message, params, response
		FROM request_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	var out []*RequestLog
	for rows.Next() {
		var r RequestLog
		var tenant, user, server, ip, agent, errCode, errMsg, params, resp sql.NullString
		var status sql.NullInt64
		if err := rows.Scan(
			&r.ID, &r.RequestID, &tenant, &user, &r.Method, &server,
			&ip, &agent, &r.StartedAt, &r.FinishedAt, &r.DurationMs,
			&r.Success, &status, &errCode, &errMsg, &params, &resp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request log: %w", err)
		}
		r.TenantID = tenant.String
		r.UserID = user.String
		r.ServerID = server.String
		r.ClientIP = ip.String
		r.UserAgent = agent.String
		r.ErrorCode = errCode.String
		r.ErrorMessage = errMsg.String
		r.Params = params.String
		r.Response = resp.String
		if status.Valid {
			code := int(status.Int64)
			r.StatusCode = &code
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PruneRequestLogs deletes audit rows older than the cutoff and returns the
// number removed.
func (s *SQLiteStorage) PruneRequestLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM request_log WHERE started_at < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune request log: %w", err)
	}
	return res.RowsAffected()
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*ServerRecord, error) {
	var rec ServerRecord
	var version, caps, tags, tenant, owner sql.NullString
	var transport, health string
	var lastCheck sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.Name, &version, &rec.EndpointURL, &transport, &caps, &tags,
		&tenant, &owner, &health, &lastCheck,
		&rec.Perf.AvgResponseMs, &rec.Perf.SuccessRate, &rec.Perf.ActiveConnections,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan server: %w", err)
	}

	rec.Version = version.String
	rec.Transport = Transport(transport)
	rec.TenantID = tenant.String
	rec.OwnerUserID = owner.String
	rec.HealthStatus = HealthStatus(health)
	if lastCheck.Valid {
		rec.LastHealthCheck = lastCheck.Time
	}
	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &rec.Capabilities); err != nil {
			return nil, fmt.Errorf("failed to decode capabilities: %w", err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
