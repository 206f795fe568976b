package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"LevelScope/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore persists instruments and candles to PostgreSQL.
// Prices travel as text so NUMERIC values keep their exact decimal form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("postgres store connected: %s@%s/%s", config.ConnConfig.User, config.ConnConfig.Host, config.ConnConfig.Database)
	return s, nil
}

// migrate applies all embedded SQL files in lexical order. Migrations are idempotent.
func (s *PostgresStore) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(postgresMigrations, "migrations/postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveInstruments(ctx context.Context, instruments []model.Instrument) error {
	batch := &pgx.Batch{}
	now := time.Now()
	for _, in := range instruments {
		if in.FIGI == "" {
			return fmt.Errorf("%w: figi is required", ErrInvalidInput)
		}
		importedAt := in.ImportedAt
		if importedAt.IsZero() {
			importedAt = now
		}
		batch.Queue(`
			INSERT INTO instruments (figi, type, name, ticker, currency, price_increment, imported_at, deleted_at)
			VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, NULL)
			ON CONFLICT (figi) DO UPDATE SET
				type = EXCLUDED.type,
				name = EXCLUDED.name,
				ticker = EXCLUDED.ticker,
				currency = EXCLUDED.currency,
				price_increment = EXCLUDED.price_increment,
				deleted_at = NULL
		`, in.FIGI, string(in.Type), in.Name, in.Ticker, string(in.Currency), in.PriceIncrement.String(), importedAt)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save instruments: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteInstruments(ctx context.Context, figis []string, at time.Time) error {
	if len(figis) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE instruments SET deleted_at = $1 WHERE figi = ANY($2)`, at, figis)
	if err != nil {
		return fmt.Errorf("soft delete instruments: %w", err)
	}
	return nil
}

const postgresInstrumentColumns = `figi, type, name, ticker, currency, price_increment::text, imported_at, deleted_at`

func (s *PostgresStore) Instruments(ctx context.Context, filter InstrumentFilter) ([]model.Instrument, error) {
	query := `SELECT ` + postgresInstrumentColumns + ` FROM instruments WHERE TRUE`
	var args []any
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if filter.Currency != "" {
		args = append(args, string(filter.Currency))
		query += fmt.Sprintf(` AND currency = $%d`, len(args))
	}
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY ticker`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		in, err := scanPostgresInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InstrumentByTicker(ctx context.Context, ticker string) (*model.Instrument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresInstrumentColumns+` FROM instruments WHERE UPPER(ticker) = UPPER($1)`, ticker)
	in, err := scanPostgresInstrument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return in, err
}

func scanPostgresInstrument(row pgx.Row) (*model.Instrument, error) {
	var (
		in        model.Instrument
		typ, cur  string
		increment string
	)
	if err := row.Scan(&in.FIGI, &typ, &in.Name, &in.Ticker, &cur, &increment, &in.ImportedAt, &in.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan instrument: %w", err)
	}
	in.Type = model.InstrumentType(typ)
	in.Currency = model.Currency(cur)
	var err error
	if in.PriceIncrement, err = decimal.NewFromString(increment); err != nil {
		return nil, fmt.Errorf("parse price increment: %w", err)
	}
	return &in, nil
}

func (s *PostgresStore) SaveCandles(ctx context.Context, figi string, interval model.CandleInterval, candles []model.Candle) error {
	if err := validateCandles(figi, interval); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (instrument, "interval", "time", open, high, low, close, volume)
			VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7::text::numeric, $8)
			ON CONFLICT (instrument, "interval", "time") DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`, figi, string(interval), c.Time, c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save candles: %w", err)
	}
	return nil
}

func (s *PostgresStore) Candles(ctx context.Context, filter CandleFilter) ([]model.Candle, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	in, err := s.InstrumentByTicker(ctx, filter.Ticker)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT "time", open::text, high::text, low::text, close::text, volume
		FROM candles
		WHERE instrument = $1 AND "interval" = $2`
	args := []any{in.FIGI, string(filter.Interval)}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(` AND "time" >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(` AND "time" <= $%d`, len(args))
	}
	query += ` ORDER BY "time"`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			c                     model.Candle
			open, high, low, last string
		)
		if err := rows.Scan(&c.Time, &open, &high, &low, &last, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		if c.Open, c.High, c.Low, c.Close, err = parsePrices(open, high, low, last); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestCandleTime(ctx context.Context, figi string, interval model.CandleInterval) (time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX("time") FROM candles WHERE instrument = $1 AND "interval" = $2`,
		figi, string(interval)).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest candle time: %w", err)
	}
	if latest == nil {
		return time.Time{}, ErrNotFound
	}
	return *latest, nil
}

func (s *PostgresStore) Size(ctx context.Context) (int64, error) {
	var size int64
	if err := s.pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&size); err != nil {
		return 0, fmt.Errorf("db size: %w", err)
	}
	return size, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
