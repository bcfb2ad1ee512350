// Package store persists summaries of ended discussions in SQLite. The
// JSONL logs stay the source of truth; the archive is an index over them
// that survives log directory cleanups.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// DB wraps the archive database handle.
type DB struct {
	db *sql.DB
}

// NewDB opens the archive database. The DSN is a plain file path; the
// connection pragmas are appended here.
//
// Notes:
// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
// - WAL journal mode prevents locking issues between the daemon and the CLI.
func NewDB(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	sqliteDB, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	// SQLite: a single connection is optimal with WAL for this local,
	// low-write workload.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB}, nil
}

// Migrate creates the archive schema when missing.
func (d *DB) Migrate(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS archived_discussion (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT '',
			consensus INTEGER NOT NULL DEFAULT 0,
			rounds INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			started_ts INTEGER NOT NULL DEFAULT 0,
			ended_ts INTEGER NOT NULL DEFAULT 0,
			archived_ts INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_archived_discussion_ended_ts ON archived_discussion (ended_ts);
	`
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "failed to migrate archive schema")
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// ArchivedDiscussion is one row of the archive.
type ArchivedDiscussion struct {
	ID           string
	Topic        string
	Participants []string
	Decision     string
	Consensus    bool
	Rounds       int
	MessageCount int
	StartedTs    int64
	EndedTs      int64
	ArchivedTs   int64
}

// Archive upserts the summary of an ended discussion. Re-archiving the
// same discussion refreshes the row.
func (d *DB) Archive(ctx context.Context, st discussion.Status) error {
	stmt := `
		INSERT INTO archived_discussion
			(id, topic, participants, decision, consensus, rounds, message_count, started_ts, ended_ts, archived_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			topic = excluded.topic,
			participants = excluded.participants,
			decision = excluded.decision,
			consensus = excluded.consensus,
			rounds = excluded.rounds,
			message_count = excluded.message_count,
			started_ts = excluded.started_ts,
			ended_ts = excluded.ended_ts,
			archived_ts = excluded.archived_ts
	`
	consensus := 0
	if st.Consensus {
		consensus = 1
	}
	_, err := d.db.ExecContext(ctx, stmt,
		st.ID,
		st.Topic,
		strings.Join(st.Participants, ","),
		st.Decision,
		consensus,
		st.Round,
		st.MessageCount,
		unixOrZero(st.StartedAt),
		unixOrZero(st.EndedAt),
		time.Now().Unix(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to archive discussion %s", st.ID)
	}
	return nil
}

// FindArchived filters archive rows. Nil fields match everything.
type FindArchived struct {
	ID            *string
	TopicContains *string
	Participant   *string
	ConsensusOnly bool

	Limit  *int
	Offset *int
}

// ListArchived lists archived discussions, most recently ended first.
func (d *DB) ListArchived(ctx context.Context, find *FindArchived) ([]*ArchivedDiscussion, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.TopicContains != nil {
		where, args = append(where, "topic LIKE ?"), append(args, "%"+*find.TopicContains+"%")
	}
	if find.Participant != nil {
		// Participants are stored comma-joined; pad both sides so an exact
		// name match cannot hit a substring of another name.
		where, args = append(where, "(',' || participants || ',') LIKE ?"), append(args, "%,"+*find.Participant+",%")
	}
	if find.ConsensusOnly {
		where = append(where, "consensus = 1")
	}

	query := `SELECT id, topic, participants, decision, consensus, rounds, message_count, started_ts, ended_ts, archived_ts
		FROM archived_discussion
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ended_ts DESC, id ASC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list archived discussions")
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []*ArchivedDiscussion
	for rows.Next() {
		var row ArchivedDiscussion
		var participants string
		var consensus int
		if err := rows.Scan(
			&row.ID,
			&row.Topic,
			&participants,
			&row.Decision,
			&consensus,
			&row.Rounds,
			&row.MessageCount,
			&row.StartedTs,
			&row.EndedTs,
			&row.ArchivedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan archived discussion")
		}
		if participants != "" {
			row.Participants = strings.Split(participants, ",")
		}
		row.Consensus = consensus == 1
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate archived discussions")
	}
	return out, nil
}

// GetArchived fetches one archive row, or nil when absent.
func (d *DB) GetArchived(ctx context.Context, id string) (*ArchivedDiscussion, error) {
	rows, err := d.ListArchived(ctx, &FindArchived{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// DeleteArchived removes one archive row; deleting an absent row is not an
// error.
func (d *DB) DeleteArchived(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM archived_discussion WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "failed to delete archived discussion %s", id)
	}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
