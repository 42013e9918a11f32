package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	"quantedge-ta/internal/engine"
	"quantedge-ta/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadAllBars reads all bars newer than afterOpenTime across every series,
// ordered by open time ascending. Implements the warmup backfill source.
func (r *Reader) ReadAllBars(afterOpenTime uint64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT symbol, interval, open_time, open, high, low, close, volume
		FROM bars
		WHERE open_time > ?
		ORDER BY open_time ASC
	`, afterOpenTime)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

func scanBars(rows *sql.Rows) ([]model.Bar, error) {
	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var volume sql.NullFloat64
		if err := rows.Scan(&b.Symbol, &b.Interval, &b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bar: %w", err)
		}
		if volume.Valid {
			b.Volume = volume.Float64
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadLatestSnapshot loads the most recent engine snapshot from SQLite.
func (r *Reader) ReadLatestSnapshot() (*engine.EngineSnapshot, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM engine_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	snap, err := engine.UnmarshalSnapshot([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
