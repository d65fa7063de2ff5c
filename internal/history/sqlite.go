package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/instrument-station/internal/blueprint"
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository over the change_history table.
//
// Thread Safety: safe for concurrent use; database/sql serialises access.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a journal backed by db. The change_history
// table must exist (see the embedded migrations).
//
// Parameters:
//   - db: Open SQLite connection
//
// Returns:
//   - *SQLiteRepository: Repository ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts ev with the current UTC time.
func (r *SQLiteRepository) Record(ctx context.Context, ev *blueprint.ChangeEvent) error {
	if ev == nil || ev.Path == "" || ev.Action == "" {
		return ErrInvalidEvent
	}

	var value sql.NullString
	if ev.Value != nil {
		data, err := json.Marshal(ev.Value)
		if err != nil {
			return fmt.Errorf("marshalling value: %w", err)
		}
		value = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO change_history (path, root, action, value, unit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Path,
		blueprint.Root(ev.Path),
		string(ev.Action),
		value,
		ev.Unit,
		r.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting change history: %w", err)
	}
	return nil
}

// Deliver records ev, letting the repository act as a broadcaster sink.
func (r *SQLiteRepository) Deliver(ctx context.Context, ev *blueprint.ChangeEvent) error {
	return r.Record(ctx, ev)
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context, pathPrefix string, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	query := `SELECT id, path, action, value, unit, created_at FROM change_history`
	args := []any{}
	if pathPrefix != "" {
		// Match the path itself and its dotted descendants, never a sibling
		// that merely shares a prefix ("d1" must not match "d10").
		child := pathPrefix + blueprint.PathSeparator
		query += ` WHERE path = ? OR substr(path, 1, ?) = ?`
		args = append(args, pathPrefix, len(child), child)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			action    string
			value     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Path, &action, &value, &e.Unit, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning change history: %w", err)
		}
		e.Action = blueprint.Action(action)
		if value.Valid {
			if err := json.Unmarshal([]byte(value.String), &e.Value); err != nil {
				return nil, fmt.Errorf("unmarshalling value: %w", err)
			}
		}
		if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change history: %w", err)
	}
	return entries, nil
}

// Prune implements Repository.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeFormat)
	result, err := r.db.ExecContext(ctx, "DELETE FROM change_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting change history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
