package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/rules"
	"github.com/gofhir/quality/service"
	"github.com/gofhir/quality/settings"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres persists settings, rules, resources and validation results
// in PostgreSQL. Records are stored as JSONB payloads with the columns
// needed for lookups pulled out alongside.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ settings.Store         = (*Postgres)(nil)
	_ rules.Store            = (*Postgres)(nil)
	_ ResourceStore          = (*Postgres)(nil)
	_ ResultStore            = (*Postgres)(nil)
	_ service.ResourceFinder = (*Postgres)(nil)
)

// NewPostgres returns a store backed by the given pool. The pool is
// owned by the caller.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) conn() queryable { return p.pool }

const schema = `
CREATE TABLE IF NOT EXISTS quality_settings (
	id         TEXT PRIMARY KEY,
	active     BOOLEAN NOT NULL DEFAULT FALSE,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS quality_settings_active
	ON quality_settings (active) WHERE active;

CREATE TABLE IF NOT EXISTS quality_rule (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_rule_version (
	rule_id    TEXT NOT NULL,
	version    TEXT NOT NULL,
	expression TEXT NOT NULL,
	severity   TEXT NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS quality_rule_version_rule
	ON quality_rule_version (rule_id, changed_at);

CREATE TABLE IF NOT EXISTS quality_resource (
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	payload       JSONB NOT NULL,
	PRIMARY KEY (resource_type, resource_id)
);

CREATE TABLE IF NOT EXISTS quality_result (
	id            BIGSERIAL PRIMARY KEY,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	hash          BIGINT NOT NULL,
	payload       JSONB NOT NULL,
	continuous    INTEGER NOT NULL DEFAULT 0,
	stored_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS quality_result_resource
	ON quality_result (resource_type, resource_id, stored_at DESC);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn().Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (p *Postgres) GetSettings(ctx context.Context, id string) (*settings.Settings, error) {
	row := p.conn().QueryRow(ctx, `SELECT payload FROM quality_settings WHERE id = $1`, id)
	return scanSettings(row)
}

func (p *Postgres) ListSettings(ctx context.Context) ([]*settings.Settings, error) {
	rows, err := p.conn().Query(ctx, `SELECT payload FROM quality_settings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*settings.Settings
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var s settings.Settings
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decoding settings record: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveSettings(ctx context.Context, s *settings.Settings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings record: %w", err)
	}
	_, err = p.conn().Exec(ctx, `
		INSERT INTO quality_settings (id, active, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET active = EXCLUDED.active, payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.Active, payload, s.UpdatedAt)
	return err
}

func (p *Postgres) DeleteSettings(ctx context.Context, id string) error {
	tag, err := p.conn().Exec(ctx, `DELETE FROM quality_settings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (p *Postgres) ActiveSettings(ctx context.Context) (*settings.Settings, error) {
	row := p.conn().QueryRow(ctx, `SELECT payload FROM quality_settings WHERE active`)
	return scanSettings(row)
}

// ActivateSettings deactivates the current active record and activates
// the target in one transaction so at most one record is ever active.
func (p *Postgres) ActivateSettings(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE quality_settings
		SET active = FALSE, payload = jsonb_set(payload, '{active}', 'false')
		WHERE active`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE quality_settings
		SET active = TRUE, payload = jsonb_set(payload, '{active}', 'true'),
			updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return tx.Commit(ctx)
}

func scanSettings(row pgx.Row) (*settings.Settings, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	var s settings.Settings
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decoding settings record: %w", err)
	}
	return &s, nil
}

func (p *Postgres) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	var payload []byte
	err := p.conn().QueryRow(ctx, `SELECT payload FROM quality_rule WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	var r rules.Rule
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decoding rule: %w", err)
	}
	return &r, nil
}

func (p *Postgres) ListRules(ctx context.Context) ([]*rules.Rule, error) {
	rows, err := p.conn().Query(ctx, `SELECT payload FROM quality_rule ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r rules.Rule
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decoding rule: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRule(ctx context.Context, rule *rules.Rule) error {
	payload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encoding rule: %w", err)
	}
	_, err = p.conn().Exec(ctx, `
		INSERT INTO quality_rule (id, name, deleted, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, deleted = EXCLUDED.deleted,
			payload = EXCLUDED.payload`,
		rule.ID, rule.Name, rule.Deleted, payload)
	return err
}

func (p *Postgres) AppendVersion(ctx context.Context, record rules.VersionRecord) error {
	_, err := p.conn().Exec(ctx, `
		INSERT INTO quality_rule_version (rule_id, version, expression, severity, changed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		record.RuleID, record.Version, record.Expression, string(record.Severity), record.ChangedAt)
	return err
}

func (p *Postgres) VersionHistory(ctx context.Context, ruleID string) ([]rules.VersionRecord, error) {
	rows, err := p.conn().Query(ctx, `
		SELECT rule_id, version, expression, severity, changed_at
		FROM quality_rule_version WHERE rule_id = $1 ORDER BY changed_at`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.VersionRecord
	for rows.Next() {
		var rec rules.VersionRecord
		var severity string
		if err := rows.Scan(&rec.RuleID, &rec.Version, &rec.Expression, &severity, &rec.ChangedAt); err != nil {
			return nil, err
		}
		rec.Severity = fq.Severity(severity)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) FindResource(ctx context.Context, resourceType, id string) (map[string]any, error) {
	var payload []byte
	err := p.conn().QueryRow(ctx, `SELECT payload FROM quality_resource
		WHERE resource_type = $1 AND resource_id = $2`, resourceType, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	var resource map[string]any
	if err := json.Unmarshal(payload, &resource); err != nil {
		return nil, fmt.Errorf("decoding resource: %w", err)
	}
	return resource, nil
}

func (p *Postgres) PutResource(ctx context.Context, resourceType, id string, resource map[string]any) error {
	payload, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("encoding resource: %w", err)
	}
	_, err = p.conn().Exec(ctx, `
		INSERT INTO quality_resource (resource_type, resource_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_type, resource_id) DO UPDATE
		SET payload = EXCLUDED.payload`,
		resourceType, id, payload)
	return err
}

func (p *Postgres) DeleteResource(ctx context.Context, resourceType, id string) error {
	tag, err := p.conn().Exec(ctx, `DELETE FROM quality_resource
		WHERE resource_type = $1 AND resource_id = $2`, resourceType, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveResult(ctx context.Context, rec ResultRecord) error {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = p.conn().Exec(ctx, `
		INSERT INTO quality_result (resource_type, resource_id, hash, payload, continuous, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ResourceType, rec.ResourceID, int64(rec.Hash), payload, rec.ContinuousScore, rec.StoredAt)
	return err
}

func (p *Postgres) LatestResult(ctx context.Context, resourceType, id string) (*ResultRecord, error) {
	row := p.conn().QueryRow(ctx, `
		SELECT resource_type, resource_id, hash, payload, continuous, stored_at
		FROM quality_result
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY stored_at DESC LIMIT 1`, resourceType, id)
	rec, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) ResultHistory(ctx context.Context, resourceType, id string) ([]ResultRecord, error) {
	rows, err := p.conn().Query(ctx, `
		SELECT resource_type, resource_id, hash, payload, continuous, stored_at
		FROM quality_result
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY stored_at DESC`, resourceType, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanResult(row pgx.Row) (*ResultRecord, error) {
	var rec ResultRecord
	var hash int64
	var payload []byte
	if err := row.Scan(&rec.ResourceType, &rec.ResourceID, &hash, &payload, &rec.ContinuousScore, &rec.StoredAt); err != nil {
		return nil, err
	}
	rec.Hash = uint64(hash)
	if err := json.Unmarshal(payload, &rec.Result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &rec, nil
}
