//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rtpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer per run; keep SQLite on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("run history opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, started_at, stopped_at, line, period_ns, clamped, policy, priority, lock_memory,
		                  iterations, overruns, actuation_errors, max_lateness_ns, stop_reason, exit_code, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.StartedAt.UTC().Format(time.RFC3339Nano), r.StoppedAt.UTC().Format(time.RFC3339Nano),
		r.Line, int64(r.Period), r.Clamped, r.Policy, r.Priority, r.LockMemory,
		int64(r.Iterations), int64(r.Overruns), int64(r.ActuationErrors), int64(r.MaxLateness),
		r.StopReason, r.ExitCode, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, stopped_at, line, period_ns, clamped, policy, priority, lock_memory,
		        iterations, overruns, actuation_errors, max_lateness_ns, stop_reason, exit_code, err
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                        RunRecord
			started, stopped         string
			period, iters, over, act int64
			maxLate                  int64
			errStr                   sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &stopped, &r.Line, &period, &r.Clamped, &r.Policy, &r.Priority,
			&r.LockMemory, &iters, &over, &act, &maxLate, &r.StopReason, &r.ExitCode, &errStr); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.StoppedAt, _ = time.Parse(time.RFC3339Nano, stopped)
		r.Period = time.Duration(period)
		r.Iterations, r.Overruns, r.ActuationErrors = uint64(iters), uint64(over), uint64(act)
		r.MaxLateness = time.Duration(maxLate)
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
