package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"LevelScope/internal/model"
)

// SQLiteStore persists instruments and candles to a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			figi            TEXT PRIMARY KEY,
			type            TEXT NOT NULL,
			name            TEXT NOT NULL,
			ticker          TEXT NOT NULL UNIQUE,
			currency        TEXT NOT NULL DEFAULT 'USD',
			price_increment TEXT NOT NULL DEFAULT '0',
			imported_at     INTEGER NOT NULL,
			deleted_at      INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS candles (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument  TEXT NOT NULL REFERENCES instruments(figi),
			interval    TEXT NOT NULL,
			time        INTEGER NOT NULL,
			open        TEXT NOT NULL,
			high        TEXT NOT NULL,
			low         TEXT NOT NULL,
			close       TEXT NOT NULL,
			volume      INTEGER NOT NULL,
			UNIQUE (instrument, interval, time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(instrument, interval, time)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveInstruments(ctx context.Context, instruments []model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, in := range instruments {
		if in.FIGI == "" {
			return fmt.Errorf("%w: figi is required", ErrInvalidInput)
		}
		importedAt := now
		if !in.ImportedAt.IsZero() {
			importedAt = in.ImportedAt.Unix()
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO instruments
			(figi, type, name, ticker, currency, price_increment, imported_at, deleted_at)
			VALUES (?,?,?,?,?,?,?,NULL)
			ON CONFLICT(figi) DO UPDATE SET
				type = excluded.type,
				name = excluded.name,
				ticker = excluded.ticker,
				currency = excluded.currency,
				price_increment = excluded.price_increment,
				deleted_at = NULL`,
			in.FIGI, string(in.Type), in.Name, in.Ticker, string(in.Currency),
			in.PriceIncrement.String(), importedAt,
		)
		if err != nil {
			return fmt.Errorf("save instrument %s: %w", in.FIGI, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SoftDeleteInstruments(ctx context.Context, figis []string, at time.Time) error {
	if len(figis) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	args := make([]any, 0, len(figis)+1)
	args = append(args, at.Unix())
	for _, f := range figis {
		args = append(args, f)
	}
	query := `UPDATE instruments SET deleted_at = ? WHERE figi IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(figis)), ",") + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("soft delete instruments: %w", err)
	}
	return nil
}

const sqliteInstrumentColumns = `figi, type, name, ticker, currency, price_increment, imported_at, deleted_at`

func (s *SQLiteStore) Instruments(ctx context.Context, filter InstrumentFilter) ([]model.Instrument, error) {
	query := `SELECT ` + sqliteInstrumentColumns + ` FROM instruments WHERE 1=1`
	var args []any
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Currency != "" {
		query += ` AND currency = ?`
		args = append(args, string(filter.Currency))
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY ticker`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		in, err := scanSQLiteInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InstrumentByTicker(ctx context.Context, ticker string) (*model.Instrument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteInstrumentColumns+` FROM instruments WHERE ticker = ? COLLATE NOCASE`, ticker)
	in, err := scanSQLiteInstrument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteInstrument(row rowScanner) (*model.Instrument, error) {
	var (
		in         model.Instrument
		typ, cur   string
		increment  string
		importedAt int64
		deletedAt  sql.NullInt64
	)
	if err := row.Scan(&in.FIGI, &typ, &in.Name, &in.Ticker, &cur, &increment, &importedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan instrument: %w", err)
	}
	in.Type = model.InstrumentType(typ)
	in.Currency = model.Currency(cur)
	in.ImportedAt = time.Unix(importedAt, 0).UTC()
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0).UTC()
		in.DeletedAt = &t
	}
	var err error
	if in.PriceIncrement, err = decimal.NewFromString(increment); err != nil {
		return nil, fmt.Errorf("parse price increment: %w", err)
	}
	return &in, nil
}

func (s *SQLiteStore) SaveCandles(ctx context.Context, figi string, interval model.CandleInterval, candles []model.Candle) error {
	if err := validateCandles(figi, interval); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO candles
		(instrument, interval, time, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(instrument, interval, time) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, figi, string(interval), c.Time.Unix(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume); err != nil {
			return fmt.Errorf("save candle %s: %w", c.Time.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Candles(ctx context.Context, filter CandleFilter) ([]model.Candle, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	in, err := s.InstrumentByTicker(ctx, filter.Ticker)
	if err != nil {
		return nil, err
	}

	query := `SELECT time, open, high, low, close, volume FROM candles WHERE instrument = ? AND interval = ?`
	args := []any{in.FIGI, string(filter.Interval)}
	if !filter.From.IsZero() {
		query += ` AND time >= ?`
		args = append(args, filter.From.Unix())
	}
	if !filter.To.IsZero() {
		query += ` AND time <= ?`
		args = append(args, filter.To.Unix())
	}
	query += ` ORDER BY time`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			ts                    int64
			open, high, low, last string
			c                     model.Candle
		)
		if err := rows.Scan(&ts, &open, &high, &low, &last, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		if c.Open, c.High, c.Low, c.Close, err = parsePrices(open, high, low, last); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func parsePrices(open, high, low, last string) (o, h, l, c decimal.Decimal, err error) {
	if o, err = decimal.NewFromString(open); err != nil {
		return o, h, l, c, fmt.Errorf("parse open: %w", err)
	}
	if h, err = decimal.NewFromString(high); err != nil {
		return o, h, l, c, fmt.Errorf("parse high: %w", err)
	}
	if l, err = decimal.NewFromString(low); err != nil {
		return o, h, l, c, fmt.Errorf("parse low: %w", err)
	}
	if c, err = decimal.NewFromString(last); err != nil {
		return o, h, l, c, fmt.Errorf("parse close: %w", err)
	}
	return o, h, l, c, nil
}

func (s *SQLiteStore) LatestCandleTime(ctx context.Context, figi string, interval model.CandleInterval) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(time) FROM candles WHERE instrument = ? AND interval = ?`,
		figi, string(interval)).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest candle time: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, ErrNotFound
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

func (s *SQLiteStore) Size(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("db size: %w", err)
	}
	return size, nil
}

func (s *SQLiteStore) Close() error {
	log.Info("closing sqlite store")
	return s.db.Close()
}
