// Package storage persists crossing events to SQLite through an async
// bounded writer, maintains daily rollups and exports day files as CSV.
package storage

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"linetally/internal/count"
)

// tsLayout is fixed-width so lexical ORDER BY matches chronological order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	queueSize    = 1000
	maxBatch     = 100
	drainTimeout = 5 * time.Second
)

// EventRecord is a crossing event as stored in the database.
type EventRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts_utc"`
	Direction string    `json:"direction"`
	TrackID   int64     `json:"track_id"`
	X1        float64   `json:"x1"`
	Y1        float64   `json:"y1"`
	X2        float64   `json:"x2"`
	Y2        float64   `json:"y2"`
	Conf      float64   `json:"conf"`
}

// Rollup is the per-day aggregate.
type Rollup struct {
	Day string `json:"day"`
	In  int64  `json:"in_count"`
	Out int64  `json:"out_count"`
	Net int64  `json:"net_count"`
}

// Store owns the SQLite database and the background writer. Enqueue never
// blocks the caller; under sustained backpressure events are dropped and
// counted rather than stalling the frame loop.
type Store struct {
	db     *sql.DB
	csvDir string

	queue   chan count.CrossingEvent
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

// Open opens (creating if needed) the database at dbPath, runs migrations
// and starts the writer. csvDir is where ExportCSV places day files.
func Open(dbPath, csvDir string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(dbPath), csvDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		csvDir: csvDir,
		queue:  make(chan count.CrossingEvent, queueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	go s.writerLoop()
	log.Printf("[Storage] Database initialized: %s", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS crossing_events (
			id TEXT PRIMARY KEY,
			ts_utc TEXT NOT NULL,
			direction TEXT NOT NULL,
			track_id INTEGER,
			x1 REAL, y1 REAL, x2 REAL, y2 REAL,
			conf REAL
		)`,
		`CREATE TABLE IF NOT EXISTS rollups_daily (
			day TEXT PRIMARY KEY,
			in_count INTEGER,
			out_count INTEGER,
			net_count INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON crossing_events(ts_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_events_day ON crossing_events(DATE(ts_utc))`,
	}
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Enqueue queues events for async persistence. When the queue is full the
// event is dropped with a warning so the frame loop never blocks on disk.
func (s *Store) Enqueue(events []count.CrossingEvent) {
	for _, ev := range events {
		select {
		case s.queue <- ev:
		default:
			s.dropped.Add(1)
			log.Printf("[Storage] Write queue full, dropping event %s", ev.ID)
		}
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Store) writerLoop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.queue:
			s.flushBatch(s.collectBatch(ev))
		case <-s.stop:
			// Final drain: persist whatever is still queued.
			for {
				select {
				case ev := <-s.queue:
					s.flushBatch(s.collectBatch(ev))
				default:
					return
				}
			}
		}
	}
}

// collectBatch greedily pulls queued events behind first, up to maxBatch.
func (s *Store) collectBatch(first count.CrossingEvent) []count.CrossingEvent {
	batch := []count.CrossingEvent{first}
	for len(batch) < maxBatch {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (s *Store) flushBatch(batch []count.CrossingEvent) {
	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[Storage] Writer error: %v", err)
		return
	}
	for _, ev := range batch {
		_, err := tx.Exec(
			`INSERT INTO crossing_events (id, ts_utc, direction, track_id, x1, y1, x2, y2, conf)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.Timestamp.UTC().Format(tsLayout), ev.Direction, ev.TrackID,
			ev.BBox.X1, ev.BBox.Y1, ev.BBox.X2, ev.BBox.Y2, ev.Conf,
		)
		if err != nil {
			log.Printf("[Storage] Writer error: %v", err)
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[Storage] Writer error: %v", err)
	}
}

// Close stops the writer, waits up to the drain grace period for queued
// events to land, then closes the database.
func (s *Store) Close() error {
	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(drainTimeout):
		log.Printf("[Storage] Writer drain timed out, %d events may be lost", len(s.queue))
	}
	return s.db.Close()
}

// Events returns stored events newest-first. day filters by UTC date
// (YYYY-MM-DD); an empty day returns events from all days.
func (s *Store) Events(day string, limit int) ([]EventRecord, error) {
	query := `SELECT id, ts_utc, direction, track_id, x1, y1, x2, y2, conf
		FROM crossing_events ORDER BY ts_utc DESC LIMIT ?`
	args := []any{limit}
	if day != "" {
		query = `SELECT id, ts_utc, direction, track_id, x1, y1, x2, y2, conf
			FROM crossing_events WHERE DATE(ts_utc) = ? ORDER BY ts_utc DESC LIMIT ?`
		args = []any{day, limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var rec EventRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.Direction, &rec.TrackID,
			&rec.X1, &rec.Y1, &rec.X2, &rec.Y2, &rec.Conf); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Timestamp, err = time.Parse(tsLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// RollupDay recomputes and upserts the aggregate for the given UTC day.
func (s *Store) RollupDay(day string) (*Rollup, error) {
	var in, out int64
	err := s.db.QueryRow(
		`SELECT
			COUNT(*) FILTER (WHERE direction = 'in'),
			COUNT(*) FILTER (WHERE direction = 'out')
		FROM crossing_events WHERE DATE(ts_utc) = ?`, day,
	).Scan(&in, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to compute rollup: %w", err)
	}

	r := &Rollup{Day: day, In: in, Out: out, Net: in - out}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO rollups_daily (day, in_count, out_count, net_count)
		 VALUES (?, ?, ?, ?)`,
		r.Day, r.In, r.Out, r.Net,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store rollup: %w", err)
	}
	log.Printf("[Storage] Rollup %s: in=%d out=%d net=%d", r.Day, r.In, r.Out, r.Net)
	return r, nil
}

// GetRollup returns the stored aggregate for day, or nil when absent.
func (s *Store) GetRollup(day string) (*Rollup, error) {
	var r Rollup
	err := s.db.QueryRow(
		`SELECT day, in_count, out_count, net_count FROM rollups_daily WHERE day = ?`, day,
	).Scan(&r.Day, &r.In, &r.Out, &r.Net)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rollup: %w", err)
	}
	return &r, nil
}

// ExportCSV writes the day's events to <csvDir>/<day>_counts.csv and
// returns the file path.
func (s *Store) ExportCSV(day string) (string, error) {
	events, err := s.Events(day, 100000)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.csvDir, day+"_counts.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"timestamp_utc", "direction", "track_id", "x1", "y1", "x2", "y2", "confidence"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, ev := range events {
		row := []string{
			ev.Timestamp.UTC().Format(tsLayout),
			ev.Direction,
			strconv.FormatInt(ev.TrackID, 10),
			formatFloat(ev.X1), formatFloat(ev.Y1),
			formatFloat(ev.X2), formatFloat(ev.Y2),
			formatFloat(ev.Conf),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}

	log.Printf("[Storage] Exported %d events to %s", len(events), path)
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
