package exclusion

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the sqlite-backed exclusion set stored in the session
// directory.
type DB struct {
	*sql.DB
}

var _ Set = (*DB)(nil)

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas, then applies pending migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{db}
	if _, err := d.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Add records a deleted message id (idempotent).
func (d *DB) Add(id string) error {
	if id == "" {
		return nil
	}
	_, err := d.Exec(`
		INSERT INTO deleted_messages (message_id, deleted_at)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		id, time.Now().UnixMilli())
	return err
}

// Contains reports whether the id was deleted by the local user.
func (d *DB) Contains(id string) (bool, error) {
	var one int
	err := d.QueryRow(`SELECT 1 FROM deleted_messages WHERE message_id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IDs returns all excluded ids in deletion order.
func (d *DB) IDs() ([]string, error) {
	rows, err := d.Query(`SELECT message_id FROM deleted_messages ORDER BY deleted_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
