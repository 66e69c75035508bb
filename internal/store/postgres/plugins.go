package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"switchboard/internal/clock"
	"switchboard/internal/plugin"
)

const instanceColumns = `id, organization_id, plugin_id, enabled, running, status, auth_method,
config, auth_state, restart_count, last_error, started_at, stopped_at, last_health_check,
created_at, updated_at`

const insertInstanceSQL = `INSERT INTO plugin_instances (` + instanceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const updateInstanceSQL = `UPDATE plugin_instances SET
enabled = $3, running = $4, status = $5, auth_method = $6, config = $7, auth_state = $8,
restart_count = $9, last_error = $10, started_at = $11, stopped_at = $12,
last_health_check = $13, updated_at = $14
WHERE organization_id = $1 AND plugin_id = $2`

// PluginRegistry is a plugin.Registry on the plugin_instances table.
type PluginRegistry struct {
	db    DB
	clock clock.Clock
}

var _ plugin.Registry = (*PluginRegistry)(nil)

// NewPluginRegistry creates a registry on db.
func NewPluginRegistry(db DB, clk clock.Clock) *PluginRegistry {
	return &PluginRegistry{db: db, clock: clock.OrReal(clk)}
}

// Get implements plugin.Registry.
func (r *PluginRegistry) Get(ctx context.Context, orgID, pluginID string) (*plugin.Instance, error) {
	row := r.db.QueryRow(ctx, `SELECT `+instanceColumns+` FROM plugin_instances
WHERE organization_id = $1 AND plugin_id = $2`, orgID, pluginID)
	inst, err := scanInstance(row)
	if err != nil {
		return nil, fmt.Errorf("get plugin instance: %w", err)
	}
	return inst, nil
}

// List implements plugin.Registry.
func (r *PluginRegistry) List(ctx context.Context, orgID string) ([]*plugin.Instance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+instanceColumns+` FROM plugin_instances
WHERE organization_id = $1 ORDER BY plugin_id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list plugin instances: %w", err)
	}
	return collectInstances(rows)
}

// ListRunning implements plugin.Registry.
func (r *PluginRegistry) ListRunning(ctx context.Context) ([]*plugin.Instance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+instanceColumns+` FROM plugin_instances
WHERE running ORDER BY organization_id, plugin_id`)
	if err != nil {
		return nil, fmt.Errorf("list running plugin instances: %w", err)
	}
	return collectInstances(rows)
}

// Create implements plugin.Registry.
func (r *PluginRegistry) Create(ctx context.Context, inst *plugin.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	stored := inst.Clone()
	plugin.PrepareNew(stored, r.clock.Now())

	cfg, authState, err := encodeInstanceJSON(stored)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, insertInstanceSQL,
		stored.ID, stored.OrganizationID, stored.PluginID, stored.Enabled, stored.Running,
		string(stored.Status), string(stored.AuthMethod), cfg, authState,
		stored.RestartCount, stored.LastError, stored.StartedAt, stored.StoppedAt,
		stored.LastHealthCheck, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return plugin.ErrInstanceExists
		}
		return fmt.Errorf("create plugin instance: %w", err)
	}
	*inst = *stored
	return nil
}

// Update implements plugin.Registry. The row is locked for the duration of fn.
func (r *PluginRegistry) Update(ctx context.Context, orgID, pluginID string, fn func(*plugin.Instance) error) (*plugin.Instance, error) {
	var out *plugin.Instance
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+instanceColumns+` FROM plugin_instances
WHERE organization_id = $1 AND plugin_id = $2 FOR UPDATE`, orgID, pluginID)
		current, err := scanInstance(row)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID, next.OrganizationID, next.PluginID, next.CreatedAt = current.ID, current.OrganizationID, current.PluginID, current.CreatedAt
		if err := next.Validate(); err != nil {
			return err
		}
		next.UpdatedAt = r.clock.Now()

		cfg, authState, err := encodeInstanceJSON(next)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateInstanceSQL,
			orgID, pluginID, next.Enabled, next.Running, string(next.Status), string(next.AuthMethod),
			cfg, authState, next.RestartCount, next.LastError, next.StartedAt, next.StoppedAt,
			next.LastHealthCheck, next.UpdatedAt); err != nil {
			return fmt.Errorf("update plugin instance: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete implements plugin.Registry.
func (r *PluginRegistry) Delete(ctx context.Context, orgID, pluginID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM plugin_instances WHERE organization_id = $1 AND plugin_id = $2`, orgID, pluginID)
	if err != nil {
		return fmt.Errorf("delete plugin instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return plugin.ErrInstanceNotFound
	}
	return nil
}

func collectInstances(rows pgx.Rows) ([]*plugin.Instance, error) {
	defer rows.Close()
	var out []*plugin.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read plugin instances: %w", err)
	}
	return out, nil
}

func scanInstance(row pgx.Row) (*plugin.Instance, error) {
	var (
		inst           plugin.Instance
		status, method string
		cfg, authState []byte
	)
	err := row.Scan(&inst.ID, &inst.OrganizationID, &inst.PluginID, &inst.Enabled, &inst.Running,
		&status, &method, &cfg, &authState, &inst.RestartCount, &inst.LastError,
		&inst.StartedAt, &inst.StoppedAt, &inst.LastHealthCheck, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, plugin.ErrInstanceNotFound
		}
		return nil, err
	}
	inst.Status = plugin.Status(status)
	inst.AuthMethod = plugin.AuthMethod(method)
	if err := decodeInstanceJSON(&inst, cfg, authState); err != nil {
		return nil, err
	}
	return &inst, nil
}

// encodeInstanceJSON returns the JSONB columns of inst. Absent values are NULL.
func encodeInstanceJSON(inst *plugin.Instance) (cfg, authState []byte, err error) {
	if inst.Config != nil {
		if cfg, err = json.Marshal(inst.Config); err != nil {
			return nil, nil, fmt.Errorf("encode plugin config: %w", err)
		}
	}
	if inst.AuthState != nil {
		if authState, err = json.Marshal(inst.AuthState); err != nil {
			return nil, nil, fmt.Errorf("encode auth state: %w", err)
		}
	}
	return cfg, authState, nil
}

func decodeInstanceJSON(inst *plugin.Instance, cfg, authState []byte) error {
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &inst.Config); err != nil {
			return fmt.Errorf("decode plugin config: %w", err)
		}
	}
	if len(authState) > 0 {
		inst.AuthState = &plugin.AuthState{}
		if err := json.Unmarshal(authState, inst.AuthState); err != nil {
			return fmt.Errorf("decode auth state: %w", err)
		}
	}
	return nil
}
