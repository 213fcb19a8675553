package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/stridelabs/planlog/core/es"
)

// ErrCorruptEvent marks a stored row whose checksum no longer matches its
// fields. Reads fail on the first corrupt row instead of handing damaged
// history to a replay.
var ErrCorruptEvent = errors.New("corrupt event")

const selectColumns = `seq, event_id, aggregate_id, version, event_type, occurred_at, payload, checksum`

func (l *EventLog) Append(
	ctx context.Context,
	aggregateID string,
	expected es.Version,
	envs []es.Envelope,
) (*es.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := es.ValidateBatch(aggregateID, expected, envs); err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if current := es.Version(count); current != expected {
		return nil, fmt.Errorf(
			"%w: aggregate %s is at version %d, expected %d",
			es.ErrConcurrencyConflict, aggregateID, current, expected,
		)
	}

	var lastSeq int64
	for _, env := range envs {
		res, err := tx.ExecContext(ctx, `
INSERT INTO events (event_id, aggregate_id, version, event_type, occurred_at, payload, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
			env.ID,
			env.AggregateID,
			int64(env.Version),
			env.Type,
			toMillis(env.OccurredAt),
			[]byte(env.Data),
			checksum(env),
		)
		if err != nil {
			if isConstraintError(err) {
				return nil, fmt.Errorf(
					"%w: aggregate %s version %d already stored",
					es.ErrConcurrencyConflict, aggregateID, env.Version,
				)
			}
			return nil, fmt.Errorf("insert event %s: %w", env.ID, err)
		}
		if lastSeq, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	l.log.Debug(
		"append",
		slog.String("aggregate_id", aggregateID),
		slog.Int("num_events", len(envs)),
		slog.Int64("last_seq", lastSeq),
	)

	return &es.AppendResult{LastSeq: uint64(lastSeq)}, nil
}

func (l *EventLog) EventsFor(ctx context.Context, aggregateID string) ([]es.Envelope, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE aggregate_id = ? ORDER BY version ASC`, aggregateID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEnvelopes(rows)
}

func (l *EventLog) CurrentVersion(ctx context.Context, aggregateID string) (es.Version, error) {
	var count int64
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE aggregate_id = ?`, aggregateID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return es.Version(count), nil
}

func (l *EventLog) AllEvents(ctx context.Context) ([]es.Envelope, error) {
	// seq breaks timestamp ties, so equal timestamps keep insertion order
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events ORDER BY occurred_at ASC, seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows *sql.Rows) ([]es.Envelope, error) {
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		var (
			seq      int64
			version  int64
			occurred int64
			payload  []byte
			sum      []byte
			env      es.Envelope
		)
		if err := rows.Scan(&seq, &env.ID, &env.AggregateID, &version, &env.Type, &occurred, &payload, &sum); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Seq = uint64(seq)
		env.Version = es.Version(version)
		env.OccurredAt = fromMillis(occurred)
		env.Data = json.RawMessage(payload)

		if !bytes.Equal(sum, checksum(env)) {
			return nil, fmt.Errorf("%w: event %s", ErrCorruptEvent, env.ID)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

// checksum hashes the identity-bearing envelope fields. Seq is excluded, it
// is assigned by the table after the checksum is computed. A zero byte
// separates variable-length fields so content cannot shift between them.
func checksum(env es.Envelope) []byte {
	h, _ := blake2b.New256(nil)
	var buf [8]byte

	h.Write([]byte(env.ID))
	h.Write([]byte{0})
	h.Write([]byte(env.AggregateID))
	h.Write([]byte{0})
	binary.BigEndian.PutUint64(buf[:], env.Version.Uint64())
	h.Write(buf[:])
	h.Write([]byte(env.Type))
	h.Write([]byte{0})
	binary.BigEndian.PutUint64(buf[:], uint64(toMillis(env.OccurredAt)))
	h.Write(buf[:])
	h.Write(env.Data)

	return h.Sum(nil)
}

func toMillis(value time.Time) int64 { return value.UTC().UnixMilli() }

func fromMillis(value int64) time.Time { return time.UnixMilli(value).UTC() }

// isConstraintError reports whether err is a sqlite uniqueness violation.
// Both unique constraints on the events table mean the same thing for an
// append, the slot was taken by a concurrent writer.
func isConstraintError(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ es.EventLog = (*EventLog)(nil)
