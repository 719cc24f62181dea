package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/governance-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps foreign_keys in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so lexical order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseOptTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func optString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS policy_triggers (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	metric         TEXT NOT NULL,
	operator       TEXT NOT NULL,
	threshold      REAL NOT NULL,
	window_seconds INTEGER NOT NULL CHECK (window_seconds > 0),
	description    TEXT NOT NULL DEFAULT '',
	is_active      INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_rules (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	area             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	target_parameter TEXT NOT NULL,
	adjustment_value TEXT NOT NULL,
	method           TEXT NOT NULL DEFAULT 'IMMEDIATE',
	is_active        INTEGER NOT NULL DEFAULT 1,
	priority         INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_rule_triggers (
	rule_id    TEXT NOT NULL REFERENCES policy_rules(id) ON DELETE CASCADE,
	trigger_id TEXT NOT NULL REFERENCES policy_triggers(id) ON DELETE RESTRICT,
	position   INTEGER NOT NULL,
	PRIMARY KEY (rule_id, trigger_id)
);

CREATE TABLE IF NOT EXISTS system_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_adjustment_logs (
	id               TEXT PRIMARY KEY,
	rule_id          TEXT REFERENCES policy_rules(id) ON DELETE CASCADE,
	candidate_id     TEXT,
	target_parameter TEXT NOT NULL,
	method           TEXT NOT NULL,
	reason           TEXT NOT NULL,
	previous_value   TEXT,
	new_value        TEXT NOT NULL,
	applied_at       TEXT NOT NULL,
	reverted_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_adjustment_logs_rule ON policy_adjustment_logs(rule_id);
CREATE INDEX IF NOT EXISTS idx_adjustment_logs_applied ON policy_adjustment_logs(applied_at);

CREATE TABLE IF NOT EXISTS evolution_candidates (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	target_id         TEXT NOT NULL,
	reasoning         TEXT NOT NULL,
	proposed_change   TEXT NOT NULL,
	impact_analysis   TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	created_at        TEXT NOT NULL,
	resolved_at       TEXT,
	resolved_by       TEXT NOT NULL DEFAULT '',
	adjustment_log_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_candidates_status ON evolution_candidates(status);
CREATE INDEX IF NOT EXISTS idx_candidates_target ON evolution_candidates(type, target_id, status);

CREATE TABLE IF NOT EXISTS feedback_signals (
	id            TEXT PRIMARY KEY,
	target_id     TEXT NOT NULL,
	signal_type   TEXT NOT NULL,
	score         REAL NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	query_id      TEXT NOT NULL DEFAULT '',
	natural_query TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_type_created ON feedback_signals(signal_type, created_at);

CREATE TABLE IF NOT EXISTS metric_samples (
	metric      TEXT NOT NULL,
	value       REAL NOT NULL,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metric_samples_metric_time ON metric_samples(metric, recorded_at);

CREATE TABLE IF NOT EXISTS pass_summaries (
	id          TEXT PRIMARY KEY,
	started_by  TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	summary     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pass_summaries_started ON pass_summaries(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Triggers ---

const sqliteTriggerCols = `id, name, metric, operator, threshold, window_seconds, description, is_active, created_at, updated_at`

func (s *SQLiteStore) CreateTrigger(ctx context.Context, t *model.Trigger) error {
	if err := normalizeTrigger(t); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_triggers (`+sqliteTriggerCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Metric, string(t.Operator), t.Threshold, t.WindowSeconds, t.Description, t.IsActive,
		fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert trigger %s", t.Name)
}

func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	return s.getTrigger(ctx, "id", id)
}

func (s *SQLiteStore) GetTriggerByName(ctx context.Context, name string) (*model.Trigger, error) {
	return s.getTrigger(ctx, "name", name)
}

func (s *SQLiteStore) getTrigger(ctx context.Context, col, val string) (*model.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTriggerCols+` FROM policy_triggers WHERE `+col+` = ?`, val)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "trigger %s", val)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get trigger %s", val)
	}
	return t, nil
}

func (s *SQLiteStore) ListTriggers(ctx context.Context) ([]model.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTriggerCols+` FROM policy_triggers ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list triggers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trigger")
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list triggers iterate")
}

func (s *SQLiteStore) UpdateTrigger(ctx context.Context, id string, upd TriggerUpdate) (*model.Trigger, error) {
	t, err := s.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyTriggerUpdate(t, upd); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_triggers SET threshold = ?, window_seconds = ?, is_active = ?, description = ?, updated_at = ? WHERE id = ?`,
		t.Threshold, t.WindowSeconds, t.IsActive, t.Description, fmtTime(t.UpdatedAt), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update trigger %s", id)
	}
	if err := checkRowsAffected(res, "trigger", id); err != nil {
		return nil, err
	}
	return t, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTrigger(row scannable) (*model.Trigger, error) {
	var t model.Trigger
	var op, created, updated string
	if err := row.Scan(&t.ID, &t.Name, &t.Metric, &op, &t.Threshold, &t.WindowSeconds,
		&t.Description, &t.IsActive, &created, &updated); err != nil {
		return nil, err
	}
	t.Operator = model.Operator(op)
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Rules ---

const sqliteRuleCols = `id, name, area, description, target_parameter, adjustment_value, method, is_active, priority, created_at, updated_at`

func (s *SQLiteStore) CreateRule(ctx context.Context, r *model.PolicyRule) error {
	if err := normalizeRule(r); err != nil {
		return err
	}
	valueJSON, err := encodeValue(r.AdjustmentValue)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create rule")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO policy_rules (`+sqliteRuleCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, string(r.Area), r.Description, r.TargetParameter, string(valueJSON), string(r.Method),
		r.IsActive, r.Priority, fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert rule %s", r.Name)
	}

	for i, t := range r.Triggers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policy_rule_triggers (rule_id, trigger_id, position) VALUES (?, ?, ?)`,
			r.ID, t.ID, i,
		); err != nil {
			return eris.Wrapf(err, "sqlite: attach trigger %s to rule %s", t.ID, r.Name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create rule")
}

func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*model.PolicyRule, error) {
	return s.getRule(ctx, "id", id)
}

func (s *SQLiteStore) GetRuleByName(ctx context.Context, name string) (*model.PolicyRule, error) {
	return s.getRule(ctx, "name", name)
}

func (s *SQLiteStore) getRule(ctx context.Context, col, val string) (*model.PolicyRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRuleCols+` FROM policy_rules WHERE `+col+` = ?`, val)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "rule %s", val)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rule %s", val)
	}
	byRule, err := s.ruleTriggers(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	rules := []model.PolicyRule{*r}
	attachTriggers(rules, byRule)
	return &rules[0], nil
}

func (s *SQLiteStore) ListRules(ctx context.Context, filter RuleFilter) ([]model.PolicyRule, error) {
	query := `SELECT ` + sqliteRuleCols + ` FROM policy_rules WHERE 1=1`
	var args []any
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	if filter.Area != "" {
		query += ` AND area = ?`
		args = append(args, string(filter.Area))
	}
	query += ` ORDER BY priority DESC, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	var out []model.PolicyRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		out = append(out, *r)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules iterate")
	}

	byRule, err := s.ruleTriggers(ctx, "")
	if err != nil {
		return nil, err
	}
	attachTriggers(out, byRule)
	return out, nil
}

func (s *SQLiteStore) ruleTriggers(ctx context.Context, ruleID string) (map[string][]model.Trigger, error) {
	query := `SELECT rt.rule_id, t.id, t.name, t.metric, t.operator, t.threshold, t.window_seconds,
		t.description, t.is_active, t.created_at, t.updated_at
		FROM policy_rule_triggers rt JOIN policy_triggers t ON t.id = rt.trigger_id`
	var args []any
	if ruleID != "" {
		query += ` WHERE rt.rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY rt.rule_id, rt.position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rule triggers")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string][]model.Trigger)
	for rows.Next() {
		var rid, op, created, updated string
		var t model.Trigger
		if err := rows.Scan(&rid, &t.ID, &t.Name, &t.Metric, &op, &t.Threshold, &t.WindowSeconds,
			&t.Description, &t.IsActive, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule trigger")
		}
		t.Operator = model.Operator(op)
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out[rid] = append(out[rid], t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rule triggers iterate")
}

func (s *SQLiteStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_rules SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, fmtTime(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set rule active %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policy_rules WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete rule %s", id)
	}
	return checkRowsAffected(res, "rule", id)
}

func scanRule(row scannable) (*model.PolicyRule, error) {
	var r model.PolicyRule
	var area, method, valueJSON, created, updated string
	if err := row.Scan(&r.ID, &r.Name, &area, &r.Description, &r.TargetParameter, &valueJSON,
		&method, &r.IsActive, &r.Priority, &created, &updated); err != nil {
		return nil, err
	}
	r.Area = model.PolicyArea(area)
	r.Method = model.AdjustmentMethod(method)

	var err error
	if r.AdjustmentValue, err = decodeValue([]byte(valueJSON)); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*model.Value, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return decodeOptValue([]byte(raw))
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key string, v model.Value) error {
	raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), fmtTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM system_settings WHERE key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete setting %s", key)
}

func (s *SQLiteStore) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list settings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Setting
	for rows.Next() {
		var st model.Setting
		var raw, updated string
		if err := rows.Scan(&st.Key, &raw, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan setting")
		}
		if st.Value, err = decodeValue([]byte(raw)); err != nil {
			return nil, err
		}
		if st.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list settings iterate")
}

func (s *SQLiteStore) ImportSettings(ctx context.Context, settings []model.Setting, onlyMissing bool) (int64, error) {
	if len(settings) == 0 {
		return 0, nil
	}
	stmt := `INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)`
	if onlyMissing {
		stmt += ` ON CONFLICT (key) DO NOTHING`
	} else {
		stmt += ` ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import settings")
	}
	defer tx.Rollback() //nolint:errcheck

	now := fmtTime(time.Now())
	var total int64
	for _, st := range settings {
		raw, err := encodeValue(st.Value)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, stmt, st.Key, string(raw), now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import setting %s", st.Key)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import settings")
	}
	return total, nil
}

// --- Adjustment logs ---

const sqliteLogCols = `id, rule_id, candidate_id, target_parameter, method, reason, previous_value, new_value, applied_at, reverted_at`

func (s *SQLiteStore) AppendAdjustmentLog(ctx context.Context, l *model.AdjustmentLog) error {
	if l.ID == "" {
		l.ID = newID()
	}
	if l.AppliedAt.IsZero() {
		l.AppliedAt = time.Now().UTC()
	}
	var prev any
	if l.PreviousValue != nil {
		raw, err := encodeValue(*l.PreviousValue)
		if err != nil {
			return err
		}
		prev = string(raw)
	}
	next, err := encodeValue(l.NewValue)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policy_adjustment_logs (id, rule_id, candidate_id, target_parameter, method, reason, previous_value, new_value, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, nullableString(l.RuleID), nullableString(l.CandidateID), l.TargetParameter, string(l.Method),
		l.Reason, prev, string(next), fmtTime(l.AppliedAt),
	)
	return eris.Wrapf(err, "sqlite: insert adjustment log for %s", l.TargetParameter)
}

func (s *SQLiteStore) GetAdjustmentLog(ctx context.Context, id string) (*model.AdjustmentLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLogCols+` FROM policy_adjustment_logs WHERE id = ?`, id)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "adjustment log %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get adjustment log %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) ListAdjustmentLogs(ctx context.Context, filter LogFilter) ([]model.AdjustmentLog, error) {
	query := `SELECT ` + sqliteLogCols + ` FROM policy_adjustment_logs WHERE 1=1`
	var args []any

	if filter.RuleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if filter.Target != "" {
		query += ` AND target_parameter = ?`
		args = append(args, filter.Target)
	}
	if filter.OnlyOpen {
		query += ` AND reverted_at IS NULL`
	}
	if !filter.Since.IsZero() {
		query += ` AND applied_at >= ?`
		args = append(args, fmtTime(filter.Since))
	}
	query += ` ORDER BY applied_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list adjustment logs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AdjustmentLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan adjustment log")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list adjustment logs iterate")
}

func (s *SQLiteStore) MarkReverted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_adjustment_logs SET reverted_at = ? WHERE id = ? AND reverted_at IS NULL`,
		fmtTime(at), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark reverted %s", id)
	}
	return s.conditionalResult(ctx, res, "policy_adjustment_logs", "adjustment log", id)
}

func scanLog(row scannable) (*model.AdjustmentLog, error) {
	var l model.AdjustmentLog
	var ruleID, candidateID, prevJSON, reverted sql.NullString
	var method, nextJSON, applied string
	if err := row.Scan(&l.ID, &ruleID, &candidateID, &l.TargetParameter, &method, &l.Reason,
		&prevJSON, &nextJSON, &applied, &reverted); err != nil {
		return nil, err
	}
	l.RuleID = optString(ruleID)
	l.CandidateID = optString(candidateID)
	l.Method = model.AdjustmentMethod(method)

	var err error
	if prevJSON.Valid {
		if l.PreviousValue, err = decodeOptValue([]byte(prevJSON.String)); err != nil {
			return nil, err
		}
	}
	if l.NewValue, err = decodeValue([]byte(nextJSON)); err != nil {
		return nil, err
	}
	if l.AppliedAt, err = parseTime(applied); err != nil {
		return nil, err
	}
	if l.RevertedAt, err = parseOptTime(reverted); err != nil {
		return nil, err
	}
	return &l, nil
}

// --- Candidates ---

const sqliteCandidateCols = `id, type, target_id, reasoning, proposed_change, impact_analysis, status, created_at, resolved_at, resolved_by, adjustment_log_id`

func (s *SQLiteStore) CreateCandidate(ctx context.Context, c *model.EvolutionCandidate) error {
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
		return eris.Wrap(err, "sqlite: marshal impact analysis")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evolution_candidates (id, type, target_id, reasoning, proposed_change, impact_analysis, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Type), c.TargetID, c.Reasoning, string(change), string(impact), string(c.Status), fmtTime(c.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert candidate for %s", c.TargetID)
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*model.EvolutionCandidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteCandidateCols+` FROM evolution_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "candidate %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get candidate %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.EvolutionCandidate, error) {
	query := `SELECT ` + sqliteCandidateCols + ` FROM evolution_candidates WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EvolutionCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) HasPendingCandidate(ctx context.Context, typ model.CandidateType, targetID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evolution_candidates WHERE type = ? AND target_id = ? AND status = 'PENDING'`,
		string(typ), targetID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: pending candidate check %s", targetID)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ResolveCandidate(ctx context.Context, id string, status model.CandidateStatus, resolvedBy string, logID *string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evolution_candidates SET status = ?, resolved_by = ?, adjustment_log_id = ?, resolved_at = ?
		 WHERE id = ? AND status = 'PENDING'`,
		string(status), resolvedBy, nullableString(logID), fmtTime(at), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve candidate %s", id)
	}
	return s.conditionalResult(ctx, res, "evolution_candidates", "candidate", id)
}

func (s *SQLiteStore) CandidateCounts(ctx context.Context) (map[model.CandidateStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM evolution_candidates GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidate counts")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[model.CandidateStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate count")
		}
		out[model.CandidateStatus(status)] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: candidate counts iterate")
}

func scanCandidate(row scannable) (*model.EvolutionCandidate, error) {
	var c model.EvolutionCandidate
	var typ, status, changeJSON, impactJSON, created string
	var resolved, logID sql.NullString
	if err := row.Scan(&c.ID, &typ, &c.TargetID, &c.Reasoning, &changeJSON, &impactJSON, &status,
		&created, &resolved, &c.ResolvedBy, &logID); err != nil {
		return nil, err
	}
	c.Type = model.CandidateType(typ)
	c.Status = model.CandidateStatus(status)
	c.AdjustmentLogID = optString(logID)

	var err error
	if c.ProposedChange, err = decodeValue([]byte(changeJSON)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(impactJSON), &c.Impact); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal impact analysis")
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.ResolvedAt, err = parseOptTime(resolved); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Signals ---

func (s *SQLiteStore) RecordSignal(ctx context.Context, sig *model.Signal) error {
	if sig.ID == "" {
		sig.ID = newID()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_signals (id, target_id, signal_type, score, confidence, query_id, natural_query, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.TargetID, string(sig.Type), sig.Score, sig.Confidence, sig.QueryID, sig.NaturalQuery, fmtTime(sig.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert signal for %s", sig.TargetID)
}

func (s *SQLiteStore) ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error) {
	query := `SELECT id, target_id, signal_type, score, confidence, query_id, natural_query, created_at FROM feedback_signals WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND signal_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, fmtTime(filter.Since))
	}
	if filter.ScoreBelow != nil {
		query += ` AND score < ?`
		args = append(args, *filter.ScoreBelow)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list signals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Signal
	for rows.Next() {
		var sig model.Signal
		var typ, created string
		if err := rows.Scan(&sig.ID, &sig.TargetID, &typ, &sig.Score, &sig.Confidence,
			&sig.QueryID, &sig.NaturalQuery, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan signal")
		}
		sig.Type = model.SignalType(typ)
		if sig.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list signals iterate")
}

func (s *SQLiteStore) TrustAverage(ctx context.Context, since time.Time) (TrustStats, error) {
	var st TrustStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(score), 0.0), COUNT(*) FROM feedback_signals WHERE signal_type = ? AND created_at >= ?`,
		string(model.SignalTrustScore), fmtTime(since),
	).Scan(&st.Average, &st.SampleSize)
	return st, eris.Wrap(err, "sqlite: trust average")
}

// --- Metric samples ---

func (s *SQLiteStore) RecordSamples(ctx context.Context, samples []model.MetricSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin record samples")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_samples (metric, value, recorded_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare record samples")
	}
	defer stmt.Close() //nolint:errcheck

	for _, sm := range samples {
		at := sm.RecordedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, sm.Metric, sm.Value, fmtTime(at)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert sample %s", sm.Metric)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit record samples")
	}
	return int64(len(samples)), nil
}

func (s *SQLiteStore) ListSamples(ctx context.Context, metric string, since, until time.Time) ([]model.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, value, recorded_at FROM metric_samples WHERE metric = ? AND recorded_at >= ? AND recorded_at <= ? ORDER BY recorded_at`,
		metric, fmtTime(since), fmtTime(until),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list samples %s", metric)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MetricSample
	for rows.Next() {
		var sm model.MetricSample
		var at string
		if err := rows.Scan(&sm.Metric, &sm.Value, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sample")
		}
		if sm.RecordedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list samples iterate")
}

// --- Pass summaries ---

func (s *SQLiteStore) SavePassSummary(ctx context.Context, p *model.PassSummary) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pass summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pass_summaries (id, started_by, started_at, finished_at, summary) VALUES (?, ?, ?, ?, ?)`,
		p.ID, string(p.Trigger), fmtTime(p.StartedAt), fmtTime(p.FinishedAt), string(raw),
	)
	return eris.Wrapf(err, "sqlite: insert pass summary %s", p.ID)
}

func (s *SQLiteStore) LatestPassSummary(ctx context.Context) (*model.PassSummary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM pass_summaries ORDER BY started_at DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest pass summary")
	}
	var p model.PassSummary
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal pass summary")
	}
	return &p, nil
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// conditionalResult maps a guarded update that touched no row to
// ErrNotFound or ErrConflict depending on whether the row exists.
func (s *SQLiteStore) conditionalResult(ctx context.Context, res sql.Result, table, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&count); err != nil {
		return eris.Wrapf(err, "sqlite: check %s %s", entity, id)
	}
	if count == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return eris.Wrapf(ErrConflict, "%s %s", entity, id)
}
