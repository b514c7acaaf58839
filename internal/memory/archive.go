package memory

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Archive is an optional append-only SQLite record of chat turns. It
// exists for after-the-fact inspection of long sessions; the JSON
// memory document remains the durability store. Archive writes are
// best-effort — callers log and continue on error. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Archive struct {
	db *sql.DB
}

// OpenArchive creates or opens the transcript archive at dbPath.
// The schema is created automatically on first use.
func OpenArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}

	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		ts       TEXT NOT NULL,
		role     TEXT NOT NULL,
		content  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_ts ON transcript(ts);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Record appends one turn to the archive.
func (a *Archive) Record(role, content string) error {
	_, err := a.db.Exec(
		`INSERT INTO transcript (ts, role, content) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), role, content,
	)
	if err != nil {
		return fmt.Errorf("archive record: %w", err)
	}
	return nil
}

// ArchivedTurn is one archived transcript row.
type ArchivedTurn struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Recent returns the most recent limit turns, oldest first.
func (a *Archive) Recent(limit int) ([]ArchivedTurn, error) {
	rows, err := a.db.Query(
		`SELECT id, ts, role, content FROM transcript ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive recent: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	// Query returned newest-first; flip to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Search returns up to limit turns whose content contains term,
// oldest first.
func (a *Archive) Search(term string, limit int) ([]ArchivedTurn, error) {
	rows, err := a.db.Query(
		`SELECT id, ts, role, content FROM transcript
		 WHERE content LIKE '%' || ? || '%'
		 ORDER BY id ASC LIMIT ?`,
		term, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive search: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]ArchivedTurn, error) {
	var turns []ArchivedTurn
	for rows.Next() {
		var t ArchivedTurn
		if err := rows.Scan(&t.ID, &t.TS, &t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
