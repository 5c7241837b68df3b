package authority

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/storedb"
)

const authorityModule = "authority"

const settingEnabled = "enabled"

func authorityMigrations() []storedb.Migration {
	return []storedb.Migration{
		{
			Version: 1,
			Name:    "create_rules",
			SQL: `
CREATE TABLE IF NOT EXISTS rules (
  id TEXT PRIMARY KEY,
  position INTEGER NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  enabled INTEGER NOT NULL DEFAULT 1,
  url TEXT NOT NULL,
  method TEXT NOT NULL DEFAULT 'GET',
  response_json TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_url ON rules(url, enabled);
`,
		},
		{
			Version: 2,
			Name:    "create_settings",
			SQL: `
CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
INSERT OR IGNORE INTO settings(key, value) VALUES ('enabled', 'true');
`,
		},
	}
}

// SQLiteStore persists rules and the global flag in SQLite. Notifications
// are emitted by this process only; other writers to the same file are not
// observed.
type SQLiteStore struct {
	db  *sql.DB
	hub *Hub
	now func() time.Time

	// writeMu serializes read-compare-write sequences.
	writeMu sync.Mutex
}

// OpenSQLiteStore opens (creating if needed) the rules database at path.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       path,
		Module:     authorityModule,
		Migrations: authorityMigrations(),
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:  db,
		hub: NewHub(logger),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Subscribe(fn func(api.Message)) func() {
	return s.hub.Subscribe(fn)
}

func (s *SQLiteStore) Resolve(ctx context.Context, url, method string) (api.MatchDecision, error) {
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return api.Passthrough(), err
	}
	if !enabled {
		return api.Passthrough(), nil
	}
	rules, err := s.query(ctx, `WHERE url = ? AND enabled = 1`, url)
	if err != nil {
		return api.Passthrough(), err
	}
	return Match(rules, true, url, method), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]api.Rule, error) {
	return s.query(ctx, "")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (api.Rule, error) {
	return getRule(ctx, s.db, id)
}

func (s *SQLiteStore) Put(ctx context.Context, rule api.Rule) (api.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return api.Rule{}, err
	}
	respJSON, err := json.Marshal(rule.Response)
	if err != nil {
		return api.Rule{}, errx.With(ErrStoreSave, ": marshal response: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.Rule{}, errx.With(ErrStoreSave, ": begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	cur, err := getRule(ctx, tx, rule.ID)
	switch {
	case err == nil:
		if sameRule(cur, rule) {
			return cur, nil
		}
		rule.CreatedAt = cur.CreatedAt
	case errors.Is(err, api.ErrRuleNotFound):
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
	default:
		return api.Rule{}, err
	}
	rule.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rules(id, position, name, enabled, url, method, response_json, created_at, updated_at)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM rules), ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   enabled = excluded.enabled,
		   url = excluded.url,
		   method = excluded.method,
		   response_json = excluded.response_json,
		   updated_at = excluded.updated_at`,
		rule.ID,
		rule.Name,
		boolInt(rule.Enabled),
		rule.Request.URL,
		rule.Request.Method,
		string(respJSON),
		rule.CreatedAt.Format(time.RFC3339Nano),
		rule.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return api.Rule{}, errx.With(ErrStoreSave, ": upsert rule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return api.Rule{}, errx.With(ErrStoreSave, ": commit rule: %w", err)
	}

	s.hub.Publish(*api.NewRulesUpdated())
	return rule.Clone(), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return errx.With(ErrStoreSave, ": delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errx.With(api.ErrRuleNotFound, ": %q", id)
	}
	s.hub.Publish(*api.NewRulesUpdated())
	return nil
}

func (s *SQLiteStore) SetRuleEnabled(ctx context.Context, id string, enabled bool) (api.Rule, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := getRule(ctx, s.db, id)
	if err != nil {
		return api.Rule{}, err
	}
	if cur.Enabled == enabled {
		return cur, nil
	}
	cur.Enabled = enabled
	cur.UpdatedAt = s.now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled),
		cur.UpdatedAt.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return api.Rule{}, errx.With(ErrStoreSave, ": update rule enabled: %w", err)
	}
	s.hub.Publish(*api.NewRulesUpdated())
	return cur, nil
}

func (s *SQLiteStore) Enabled(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingEnabled).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, errx.With(ErrStoreRead, ": read enabled flag: %w", err)
	}
	return value != "false", nil
}

func (s *SQLiteStore) SetEnabled(ctx context.Context, enabled bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.Enabled(ctx)
	if err != nil {
		return err
	}
	if cur == enabled {
		return nil
	}
	value := "false"
	if enabled {
		value = "true"
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingEnabled,
		value,
	); err != nil {
		return errx.With(ErrStoreSave, ": write enabled flag: %w", err)
	}
	s.hub.Publish(*api.NewGlobalStateChanged(enabled))
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const ruleColumns = `id, name, enabled, url, method, response_json, created_at, updated_at`

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]api.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules `+where+` ORDER BY position`, args...)
	if err != nil {
		return nil, errx.With(ErrStoreRead, ": list rules: %w", err)
	}
	defer rows.Close()

	var rules []api.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.With(ErrStoreRead, ": iterate rules: %w", err)
	}
	return rules, nil
}

func getRule(ctx context.Context, q queryer, id string) (api.Rule, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Rule{}, errx.With(api.ErrRuleNotFound, ": %q", id)
		}
		return api.Rule{}, err
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (api.Rule, error) {
	var (
		r         api.Rule
		enabled   int
		respJSON  string
		createdAt string
		updatedAt string
	)
	if err := sc.Scan(&r.ID, &r.Name, &enabled, &r.Request.URL, &r.Request.Method, &respJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Rule{}, err
		}
		return api.Rule{}, errx.With(ErrStoreRead, ": scan rule: %w", err)
	}
	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(respJSON), &r.Response); err != nil {
		return api.Rule{}, errx.With(ErrStoreRead, ": decode response of %q: %w", r.ID, err)
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return api.Rule{}, errx.With(ErrStoreRead, ": parse created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return api.Rule{}, errx.With(ErrStoreRead, ": parse updated_at: %w", err)
	}
	return r, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Parse(time.RFC3339, v)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
