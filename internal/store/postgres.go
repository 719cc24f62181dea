package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/governance-engine/internal/db"
	"github.com/sells-group/governance-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// TryPassLock takes the cluster-wide pass lock. ok is false when another
// instance is running a pass.
func (s *PostgresStore) TryPassLock(ctx context.Context, key int64) (func(context.Context), bool, error) {
	return db.TryXactLock(ctx, s.pool, key)
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS policy_triggers (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	metric         TEXT NOT NULL,
	operator       TEXT NOT NULL,
	threshold      DOUBLE PRECISION NOT NULL,
	window_seconds INTEGER NOT NULL CHECK (window_seconds > 0),
	description    TEXT NOT NULL DEFAULT '',
	is_active      BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_rules (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	area             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	target_parameter TEXT NOT NULL,
	adjustment_value JSONB NOT NULL,
	method           TEXT NOT NULL DEFAULT 'IMMEDIATE',
	is_active        BOOLEAN NOT NULL DEFAULT true,
	priority         INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_rule_triggers (
	rule_id    TEXT NOT NULL REFERENCES policy_rules(id) ON DELETE CASCADE,
	trigger_id TEXT NOT NULL REFERENCES policy_triggers(id) ON DELETE RESTRICT,
	position   INTEGER NOT NULL,
	PRIMARY KEY (rule_id, trigger_id)
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_adjustment_logs (
	id               TEXT PRIMARY KEY,
	rule_id          TEXT REFERENCES policy_rules(id) ON DELETE CASCADE,
	candidate_id     TEXT,
	target_parameter TEXT NOT NULL,
	method           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	previous_value   JSONB,
	new_value        JSONB NOT NULL,
	applied_at       TIMESTAMPTZ NOT NULL,
	reverted_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_adjustment_logs_rule ON policy_adjustment_logs(rule_id);
CREATE INDEX IF NOT EXISTS idx_adjustment_logs_applied ON policy_adjustment_logs(applied_at DESC);

CREATE TABLE IF NOT EXISTS evolution_candidates (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	target_id         TEXT NOT NULL,
	reasoning         TEXT NOT NULL,
	proposed_change   JSONB NOT NULL,
	impact_analysis   JSONB NOT NULL,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at       TIMESTAMPTZ,
	resolved_by       TEXT NOT NULL DEFAULT '',
	adjustment_log_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_candidates_status ON evolution_candidates(status);
CREATE INDEX IF NOT EXISTS idx_candidates_target ON evolution_candidates(type, target_id, status);

CREATE TABLE IF NOT EXISTS feedback_signals (
	id            TEXT PRIMARY KEY,
	target_id     TEXT NOT NULL,
	signal_type   TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	query_id      TEXT NOT NULL DEFAULT '',
	natural_query TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_signals_type_created ON feedback_signals(signal_type, created_at);

CREATE TABLE IF NOT EXISTS metric_samples (
	metric      TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metric_samples_metric_time ON metric_samples(metric, recorded_at);

CREATE TABLE IF NOT EXISTS pass_summaries (
	id          TEXT PRIMARY KEY,
	started_by  TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	summary     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pass_summaries_started ON pass_summaries(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Triggers ---

const pgTriggerCols = `id, name, metric, operator, threshold, window_seconds, description, is_active, created_at, updated_at`

func (s *PostgresStore) CreateTrigger(ctx context.Context, t *model.Trigger) error {
	if err := normalizeTrigger(t); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO policy_triggers (`+pgTriggerCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.Metric, string(t.Operator), t.Threshold, t.WindowSeconds, t.Description, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert trigger %s", t.Name)
}

func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	return s.getTrigger(ctx, "id", id)
}

func (s *PostgresStore) GetTriggerByName(ctx context.Context, name string) (*model.Trigger, error) {
	return s.getTrigger(ctx, "name", name)
}

func (s *PostgresStore) getTrigger(ctx context.Context, col, val string) (*model.Trigger, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgTriggerCols+` FROM policy_triggers WHERE `+col+` = $1`, val)
	t, err := scanPGTrigger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "trigger %s", val)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get trigger %s", val)
	}
	return t, nil
}

func (s *PostgresStore) ListTriggers(ctx context.Context) ([]model.Trigger, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgTriggerCols+` FROM policy_triggers ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list triggers")
	}
	defer rows.Close()

	var out []model.Trigger
	for rows.Next() {
		t, err := scanPGTrigger(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan trigger")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list triggers iterate")
}

func (s *PostgresStore) UpdateTrigger(ctx context.Context, id string, upd TriggerUpdate) (*model.Trigger, error) {
	t, err := s.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyTriggerUpdate(t, upd); err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE policy_triggers SET threshold = $1, window_seconds = $2, is_active = $3, description = $4, updated_at = $5 WHERE id = $6`,
		t.Threshold, t.WindowSeconds, t.IsActive, t.Description, t.UpdatedAt, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update trigger %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "trigger %s", id)
	}
	return t, nil
}

func scanPGTrigger(row pgx.Row) (*model.Trigger, error) {
	var t model.Trigger
	var op string
	if err := row.Scan(&t.ID, &t.Name, &t.Metric, &op, &t.Threshold, &t.WindowSeconds,
		&t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Operator = model.Operator(op)
	return &t, nil
}

// --- Rules ---

const pgRuleCols = `id, name, area, description, target_parameter, adjustment_value, method, is_active, priority, created_at, updated_at`

func (s *PostgresStore) CreateRule(ctx context.Context, r *model.PolicyRule) error {
	if err := normalizeRule(r); err != nil {
		return err
	}
	valueJSON, err := encodeValue(r.AdjustmentValue)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create rule")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO policy_rules (`+pgRuleCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Name, string(r.Area), r.Description, r.TargetParameter, valueJSON, string(r.Method),
		r.IsActive, r.Priority, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert rule %s", r.Name)
	}

	for i, t := range r.Triggers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO policy_rule_triggers (rule_id, trigger_id, position) VALUES ($1, $2, $3)`,
			r.ID, t.ID, i,
		); err != nil {
			return eris.Wrapf(err, "postgres: attach trigger %s to rule %s", t.ID, r.Name)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create rule")
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*model.PolicyRule, error) {
	return s.getRule(ctx, "id", id)
}

func (s *PostgresStore) GetRuleByName(ctx context.Context, name string) (*model.PolicyRule, error) {
	return s.getRule(ctx, "name", name)
}

func (s *PostgresStore) getRule(ctx context.Context, col, val string) (*model.PolicyRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRuleCols+` FROM policy_rules WHERE `+col+` = $1`, val)
	r, err := scanPGRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "rule %s", val)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rule %s", val)
	}

	byRule, err := s.ruleTriggers(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	rules := []model.PolicyRule{*r}
	attachTriggers(rules, byRule)
	return &rules[0], nil
}

func (s *PostgresStore) ListRules(ctx context.Context, filter RuleFilter) ([]model.PolicyRule, error) {
	query := `SELECT ` + pgRuleCols + ` FROM policy_rules WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	if filter.Area != "" {
		query += fmt.Sprintf(` AND area = $%d`, argIdx)
		args = append(args, string(filter.Area))
	}
	query += ` ORDER BY priority DESC, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var out []model.PolicyRule
	for rows.Next() {
		r, err := scanPGRule(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list rules iterate")
	}

	byRule, err := s.ruleTriggers(ctx, "")
	if err != nil {
		return nil, err
	}
	attachTriggers(out, byRule)
	return out, nil
}

// ruleTriggers loads trigger attachments for one rule, or all rules when ruleID is empty.
func (s *PostgresStore) ruleTriggers(ctx context.Context, ruleID string) (map[string][]model.Trigger, error) {
	query := `SELECT rt.rule_id, t.id, t.name, t.metric, t.operator, t.threshold, t.window_seconds,
		t.description, t.is_active, t.created_at, t.updated_at
		FROM policy_rule_triggers rt JOIN policy_triggers t ON t.id = rt.trigger_id`
	args := []any{}
	if ruleID != "" {
		query += ` WHERE rt.rule_id = $1`
		args = append(args, ruleID)
	}
	query += ` ORDER BY rt.rule_id, rt.position`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rule triggers")
	}
	defer rows.Close()

	out := make(map[string][]model.Trigger)
	for rows.Next() {
		var rid, op string
		var t model.Trigger
		if err := rows.Scan(&rid, &t.ID, &t.Name, &t.Metric, &op, &t.Threshold, &t.WindowSeconds,
			&t.Description, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule trigger")
		}
		t.Operator = model.Operator(op)
		out[rid] = append(out[rid], t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rule triggers iterate")
}

func (s *PostgresStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policy_rules SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set rule active %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policy_rules WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete rule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "rule %s", id)
	}
	return nil
}

func scanPGRule(row pgx.Row) (*model.PolicyRule, error) {
	var r model.PolicyRule
	var area, method string
	var valueJSON []byte
	if err := row.Scan(&r.ID, &r.Name, &area, &r.Description, &r.TargetParameter, &valueJSON,
		&method, &r.IsActive, &r.Priority, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := decodeValue(valueJSON)
	if err != nil {
		return nil, err
	}
	r.Area = model.PolicyArea(area)
	r.Method = model.AdjustmentMethod(method)
	r.AdjustmentValue = v
	return &r, nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*model.Value, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return decodeOptValue(raw)
}

func (s *PostgresStore) SetSetting(ctx context.Context, key string, v model.Value) error {
	raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, raw, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM system_settings WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: delete setting %s", key)
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, updated_at FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list settings")
	}
	defer rows.Close()

	var out []model.Setting
	for rows.Next() {
		var st model.Setting
		var raw []byte
		if err := rows.Scan(&st.Key, &raw, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan setting")
		}
		if st.Value, err = decodeValue(raw); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list settings iterate")
}

func (s *PostgresStore) ImportSettings(ctx context.Context, settings []model.Setting, onlyMissing bool) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(settings))
	for _, st := range settings {
		raw, err := encodeValue(st.Value)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{st.Key, raw, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "system_settings",
		Columns:      []string{"key", "value", "updated_at"},
		ConflictKeys: []string{"key"},
		OnlyMissing:  onlyMissing,
	}, rows)
	return n, eris.Wrap(err, "postgres: import settings")
}

// --- Adjustment logs ---

const pgLogCols = `id, rule_id, candidate_id, target_parameter, method, reason, previous_value, new_value, applied_at, reverted_at`

func (s *PostgresStore) AppendAdjustmentLog(ctx context.Context, l *model.AdjustmentLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	if l.AppliedAt.IsZero() {
		l.AppliedAt = time.Now().UTC()
	}
	prev, err := encodeOptValue(l.PreviousValue)
	if err != nil {
		return err
	}
	next, err := encodeValue(l.NewValue)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO policy_adjustment_logs (id, rule_id, candidate_id, target_parameter, method, reason, previous_value, new_value, applied_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.RuleID, l.CandidateID, l.TargetParameter, string(l.Method), l.Reason, prev, next, l.AppliedAt,
	)
	return eris.Wrapf(err, "postgres: insert adjustment log for %s", l.TargetParameter)
}

func (s *PostgresStore) GetAdjustmentLog(ctx context.Context, id string) (*model.AdjustmentLog, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgLogCols+` FROM policy_adjustment_logs WHERE id = $1`, id)
	l, err := scanPGLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "adjustment log %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get adjustment log %s", id)
	}
	return l, nil
}

func (s *PostgresStore) ListAdjustmentLogs(ctx context.Context, filter LogFilter) ([]model.AdjustmentLog, error) {
	query := `SELECT ` + pgLogCols + ` FROM policy_adjustment_logs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RuleID != "" {
		query += fmt.Sprintf(` AND rule_id = $%d`, argIdx)
		args = append(args, filter.RuleID)
		argIdx++
	}
	if filter.Target != "" {
		query += fmt.Sprintf(` AND target_parameter = $%d`, argIdx)
		args = append(args, filter.Target)
		argIdx++
	}
	if filter.OnlyOpen {
		query += ` AND reverted_at IS NULL`
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND applied_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY applied_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list adjustment logs")
	}
	defer rows.Close()

	var out []model.AdjustmentLog
	for rows.Next() {
		l, err := scanPGLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan adjustment log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list adjustment logs iterate")
}

func (s *PostgresStore) MarkReverted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policy_adjustment_logs SET reverted_at = $1 WHERE id = $2 AND reverted_at IS NULL`,
		at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark reverted %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "policy_adjustment_logs", "adjustment log", id)
	}
	return nil
}

func scanPGLog(row pgx.Row) (*model.AdjustmentLog, error) {
	var l model.AdjustmentLog
	var method string
	var prevJSON, nextJSON []byte
	if err := row.Scan(&l.ID, &l.RuleID, &l.CandidateID, &l.TargetParameter, &method, &l.Reason,
		&prevJSON, &nextJSON, &l.AppliedAt, &l.RevertedAt); err != nil {
		return nil, err
	}
	l.Method = model.AdjustmentMethod(method)

	prev, err := decodeOptValue(prevJSON)
	if err != nil {
		return nil, err
	}
	next, err := decodeValue(nextJSON)
	if err != nil {
		return nil, err
	}
	l.PreviousValue = prev
	l.NewValue = next
	return &l, nil
}

// missingOrConflict distinguishes a conditional update that matched no row
// because the row is absent from one whose state already moved on.
func (s *PostgresStore) missingOrConflict(ctx context.Context, table, entity, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return eris.Wrapf(err, "postgres: check %s %s", entity, id)
	}
	if !exists {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return eris.Wrapf(ErrConflict, "%s %s", entity, id)
}

// --- Candidates ---

const pgCandidateCols = `id, type, target_id, reasoning, proposed_change, impact_analysis, status, created_at, resolved_at, resolved_by, adjustment_log_id`

func (s *PostgresStore) CreateCandidate(ctx context.Context, c *model.EvolutionCandidate) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CandidatePending
	}
	change, err := encodeValue(c.ProposedChange)
	if err != nil {
		return err
	}
	impact, err := json.Marshal(c.Impact)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal impact analysis")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO evolution_candidates (id, type, target_id, reasoning, proposed_change, impact_analysis, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, string(c.Type), c.TargetID, c.Reasoning, change, impact, string(c.Status), c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert candidate for %s", c.TargetID)
}

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*model.EvolutionCandidate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgCandidateCols+` FROM evolution_candidates WHERE id = $1`, id)
	c, err := scanPGCandidate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "candidate %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get candidate %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.EvolutionCandidate, error) {
	query := `SELECT ` + pgCandidateCols + ` FROM evolution_candidates WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.TargetID != "" {
		query += fmt.Sprintf(` AND target_id = $%d`, argIdx)
		args = append(args, filter.TargetID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.EvolutionCandidate
	for rows.Next() {
		c, err := scanPGCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

func (s *PostgresStore) HasPendingCandidate(ctx context.Context, typ model.CandidateType, targetID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM evolution_candidates WHERE type = $1 AND target_id = $2 AND status = 'PENDING')`,
		string(typ), targetID,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: pending candidate check %s", targetID)
}

func (s *PostgresStore) ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, resolvedBy string, logID *string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evolution_candidates SET status = $1, resolved_by = $2, adjustment_log_id = $3, resolved_at = $4 WHERE id = $5 AND status = 'PENDING'`,
		string(status), resolvedBy, logID, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve candidate %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, "evolution_candidates", "candidate", id)
	}
	return nil
}

func (s *PostgresStore) CandidateCounts(ctx context.Context) (map[model.CandidateStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM evolution_candidates GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidate counts")
	}
	defer rows.Close()

	out := make(map[model.CandidateStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate count")
		}
		out[model.CandidateStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: candidate counts iterate")
}

func scanPGCandidate(row pgx.Row) (*model.EvolutionCandidate, error) {
	var c model.EvolutionCandidate
	var typ, status string
	var changeJSON, impactJSON []byte
	if err := row.Scan(&c.ID, &typ, &c.TargetID, &c.Reasoning, &changeJSON, &impactJSON, &status,
		&c.CreatedAt, &c.ResolvedAt, &c.ResolvedBy, &c.AdjustmentLogID); err != nil {
		return nil, err
	}
	c.Type = model.CandidateType(typ)
	c.Status = model.CandidateStatus(status)

	change, err := decodeValue(changeJSON)
	if err != nil {
		return nil, err
	}
	c.ProposedChange = change
	if err := json.Unmarshal(impactJSON, &c.Impact); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal impact analysis")
	}
	return &c, nil
}

// --- Signals ---

func (s *PostgresStore) RecordSignal(ctx context.Context, sig *model.Signal) error {
	if sig.ID == "" {
		sig.ID = newID()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback_signals (id, target_id, signal_type, score, confidence, query_id, natural_query, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.TargetID, string(sig.Type), sig.Score, sig.Confidence, sig.QueryID, sig.NaturalQuery, sig.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert signal for %s", sig.TargetID)
}

func (s *PostgresStore) ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error) {
	query := `SELECT id, target_id, signal_type, score, confidence, query_id, natural_query, created_at FROM feedback_signals WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND signal_type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.TargetID != "" {
		query += fmt.Sprintf(` AND target_id = $%d`, argIdx)
		args = append(args, filter.TargetID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.ScoreBelow != nil {
		query += fmt.Sprintf(` AND score < $%d`, argIdx)
		args = append(args, *filter.ScoreBelow)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list signals")
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		var sig model.Signal
		var typ string
		if err := rows.Scan(&sig.ID, &sig.TargetID, &typ, &sig.Score, &sig.Confidence,
			&sig.QueryID, &sig.NaturalQuery, &sig.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan signal")
		}
		sig.Type = model.SignalType(typ)
		out = append(out, sig)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list signals iterate")
}

func (s *PostgresStore) TrustAverage(ctx context.Context, since time.Time) (TrustStats, error) {
	var st TrustStats
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(score), 0), COUNT(*) FROM feedback_signals WHERE signal_type = $1 AND created_at >= $2`,
		string(model.SignalTrustScore), since,
	).Scan(&st.Average, &st.SampleSize)
	return st, eris.Wrap(err, "postgres: trust average")
}

// --- Metric samples ---

func (s *PostgresStore) RecordSamples(ctx context.Context, samples []model.MetricSample) (int64, error) {
	rows := make([][]any, len(samples))
	for i, sm := range samples {
		at := sm.RecordedAt
		if at.IsZero() {
			at = time.Now()
		}
		rows[i] = []any{sm.Metric, sm.Value, at.UTC()}
	}
	n, err := db.CopyFrom(ctx, s.pool, "metric_samples", []string{"metric", "value", "recorded_at"}, rows)
	return n, eris.Wrap(err, "postgres: record samples")
}

func (s *PostgresStore) ListSamples(ctx context.Context, metric string, since, until time.Time) ([]model.MetricSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric, value, recorded_at FROM metric_samples WHERE metric = $1 AND recorded_at >= $2 AND recorded_at <= $3 ORDER BY recorded_at`,
		metric, since.UTC(), until.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list samples %s", metric)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var sm model.MetricSample
		if err := rows.Scan(&sm.Metric, &sm.Value, &sm.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sample")
		}
		out = append(out, sm)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list samples iterate")
}

// --- Pass summaries ---

func (s *PostgresStore) SavePassSummary(ctx context.Context, p *model.PassSummary) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pass summary")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pass_summaries (id, started_by, started_at, finished_at, summary) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, string(p.Trigger), p.StartedAt, p.FinishedAt, raw,
	)
	return eris.Wrapf(err, "postgres: insert pass summary %s", p.ID)
}

func (s *PostgresStore) LatestPassSummary(ctx context.Context) (*model.PassSummary, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT summary FROM pass_summaries ORDER BY started_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest pass summary")
	}
	var p model.PassSummary
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal pass summary")
	}
	return &p, nil
}
