// Package db is the bot's SQLite side store. It remembers which chats
// submissions came from, the last committed table snapshot and a journal of
// notification deliveries. The request table itself lives in the CSV file.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/centromex/rental-bot/internal/models"
	"github.com/centromex/rental-bot/internal/notify"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, creating it and its directory if needed.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		chat_id INTEGER PRIMARY KEY,
		title TEXT,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS origins (
		chat_id INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		requester TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (chat_id, message_id),
		FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
	);

	CREATE TABLE IF NOT EXISTS baselines (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		snapshot_id TEXT NOT NULL,
		taken_at DATETIME NOT NULL,
		records TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		outcome TEXT NOT NULL,
		chat_id INTEGER,
		detail TEXT,
		delivered_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_origins_message_id ON origins(message_id);
	CREATE INDEX IF NOT EXISTS idx_deliveries_delivered_at ON deliveries(delivered_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveOrigin records that messageID was posted in chatID, registering the
// chat if it is new.
func (db *DB) SaveOrigin(ctx context.Context, chatID int64, chatTitle string, messageID int64, requester string) error {
	now := time.Now().UTC()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (chat_id, title, first_seen, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title, last_seen = excluded.last_seen`,
		chatID, chatTitle, now, now,
	)
	if err != nil {
		return fmt.Errorf("save chat %d: %w", chatID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO origins (chat_id, message_id, requester, created_at) VALUES (?, ?, ?, ?)`,
		chatID, messageID, requester, now,
	)
	if err != nil {
		return fmt.Errorf("save origin %d: %w", messageID, err)
	}
	return tx.Commit()
}

// ListChats returns every known chat, most recently active first.
func (db *DB) ListChats(ctx context.Context) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY last_seen DESC, chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}

// HasOrigin reports whether messageID was posted in chatID.
func (db *DB) HasOrigin(ctx context.Context, chatID, messageID int64) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM origins WHERE chat_id = ? AND message_id = ?`, chatID, messageID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// SaveBaseline replaces the persisted snapshot.
func (db *DB) SaveBaseline(ctx context.Context, snap models.Snapshot) error {
	records, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO baselines (id, snapshot_id, taken_at, records) VALUES (1, ?, ?, ?)`,
		snap.ID, snap.TakenAt.UTC(), string(records),
	)
	return err
}

// LoadBaseline returns the persisted snapshot, if any.
func (db *DB) LoadBaseline(ctx context.Context) (models.Snapshot, bool, error) {
	var (
		id      string
		takenAt time.Time
		raw     string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT snapshot_id, taken_at, records FROM baselines WHERE id = 1`,
	).Scan(&id, &takenAt, &raw)
	if err == sql.ErrNoRows {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, err
	}

	var records []models.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return models.NewSnapshot(id, takenAt, records), true, nil
}

// RecordDelivery appends a dispatch outcome to the journal.
func (db *DB) RecordDelivery(ctx context.Context, d notify.Delivery) error {
	var chatID sql.NullInt64
	if d.Target.ChatID != 0 {
		chatID = sql.NullInt64{Int64: d.Target.ChatID, Valid: true}
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO deliveries (message_id, from_status, to_status, outcome, chat_id, detail, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.MessageID, string(d.From), string(d.To), string(d.Outcome), chatID, d.Detail, d.At.UTC(),
	)
	return err
}

// RecentDeliveries returns up to limit journal entries, newest first.
func (db *DB) RecentDeliveries(ctx context.Context, limit int) ([]notify.Delivery, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT message_id, from_status, to_status, outcome, chat_id, detail, delivered_at
		 FROM deliveries ORDER BY delivered_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Delivery
	for rows.Next() {
		var (
			d              notify.Delivery
			from, to, outc string
			chatID         sql.NullInt64
			detail         sql.NullString
		)
		if err := rows.Scan(&d.MessageID, &from, &to, &outc, &chatID, &detail, &d.At); err != nil {
			return nil, err
		}
		d.From, d.To, d.Outcome = models.Status(from), models.Status(to), notify.Outcome(outc)
		if chatID.Valid {
			d.Target = notify.Target{ChatID: chatID.Int64, MessageID: int(d.MessageID)}
		}
		d.Detail = detail.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// PurgeDeliveries deletes journal entries older than the specified duration
func (db *DB) PurgeDeliveries(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := db.conn.Exec(`DELETE FROM deliveries WHERE delivered_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}
