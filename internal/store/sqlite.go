package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-polling/internal/weather"
)

// SQLiteStore persists the store on a local SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	path       string
	maxHistory int
}

var _ weather.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates when missing) the database at path.
func NewSQLiteStore(path string, maxHistory int) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; serialising through a single connection
	// keeps transactions from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, maxHistory: maxHistory}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS weather (
			city_id TEXT PRIMARY KEY,
			base_timestamp DATETIME,
			update_time DATETIME NOT NULL,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS history (
			city_id TEXT NOT NULL,
			date TEXT NOT NULL,
			max_c REAL NOT NULL,
			min_c REAL NOT NULL,
			PRIMARY KEY (city_id, date)
		);

		CREATE INDEX IF NOT EXISTS idx_locations_position ON locations(position);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReadLocationList(ctx context.Context) ([]*weather.Location, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM locations ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var list []*weather.Location
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		var loc weather.Location
		if err := json.Unmarshal([]byte(data), &loc); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
		list = append(list, &loc)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) WriteLocationList(ctx context.Context, list []*weather.Location) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM locations"); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	for i, loc := range detachAll(list) {
		data, err := json.Marshal(loc)
		if err != nil {
			return fmt.Errorf("encode location: %w", err)
		}
		// Duplicated ids keep the first position.
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO locations (id, position, data) VALUES (?, ?, ?)",
			loc.FormattedID(), i, string(data),
		); err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) WriteLocation(ctx context.Context, loc *weather.Location) error {
	data, err := json.Marshal(detach(loc))
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO locations (id, position, data)
		VALUES (?, (SELECT COALESCE(MAX(position) + 1, 0) FROM locations), ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		loc.FormattedID(), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteLocation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM locations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return weather.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM weather WHERE city_id = ?", id); err != nil {
		return fmt.Errorf("delete weather: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE city_id = ?", id); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ReadWeather(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM weather WHERE city_id = ?", loc.FormattedID()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, weather.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query weather: %w", err)
	}

	var w weather.Weather
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}
	if date, ok := yesterdayDate(loc, &w); ok {
		h, err := s.ReadHistory(ctx, loc, date)
		if err == nil {
			w.Yesterday = h
		} else if !errors.Is(err, weather.ErrNotFound) {
			return nil, err
		}
	}
	return &w, nil
}

func (s *SQLiteStore) WriteWeather(ctx context.Context, loc *weather.Location, w *weather.Weather) error {
	key := loc.FormattedID()
	data, err := json.Marshal(snapshot(w))
	if err != nil {
		return fmt.Errorf("encode weather: %w", err)
	}
	today := w.TodayHistory(loc)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO weather (city_id, base_timestamp, update_time, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(city_id) DO UPDATE SET
			base_timestamp = excluded.base_timestamp,
			update_time = excluded.update_time,
			data = excluded.data`,
		key, w.Base.Timestamp.UTC(), w.Base.UpdateTime.UTC(), string(data),
	); err != nil {
		return fmt.Errorf("upsert weather: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (city_id, date, max_c, min_c) VALUES (?, ?, ?, ?)
		ON CONFLICT(city_id, date) DO UPDATE SET
			max_c = MAX(history.max_c, excluded.max_c),
			min_c = MIN(history.min_c, excluded.min_c)`,
		key, today.Date, today.MaxC, today.MinC,
	); err != nil {
		return fmt.Errorf("merge history: %w", err)
	}

	if s.maxHistory > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM history WHERE city_id = ? AND date NOT IN (
				SELECT date FROM history WHERE city_id = ? ORDER BY date DESC LIMIT ?
			)`,
			key, key, s.maxHistory,
		); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ReadHistory(ctx context.Context, loc *weather.Location, date string) (*weather.History, error) {
	h := weather.History{CityID: loc.FormattedID(), Date: date}
	err := s.db.QueryRowContext(ctx,
		"SELECT max_c, min_c FROM history WHERE city_id = ? AND date = ?",
		h.CityID, date,
	).Scan(&h.MaxC, &h.MinC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, weather.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return &h, nil
}
