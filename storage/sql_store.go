package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleamarket-scraper/models"
	"fleamarket-scraper/utils"
)

// dialect captures the few places where SQLite and Postgres SQL differ.
type dialect struct {
	name     string
	numbered bool
	// dateExpr renders a date column as YYYY-MM-DD text in SELECTs.
	dateExpr func(col string) string
}

var sqliteDialect = dialect{
	name:     "sqlite",
	dateExpr: func(col string) string { return col },
}

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	dateExpr: func(col string) string { return "to_char(" + col + ", 'YYYY-MM-DD')" },
}

// rebind rewrites ? placeholders as $1, $2, ... for numbered dialects.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements Store over database/sql for either dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	cleaner FieldCleaner
	logger  *utils.Logger
}

const pingAttempts = 5

// openDB opens the database, waits for it to answer and migrates the schema.
func openDB(ctx context.Context, driverName, dsn string, d dialect, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.name, err)
	}

	retry := &utils.RetryConfig{MaxAttempts: pingAttempts, BaseDelay: time.Second, Logger: logger}
	if err := retry.Do(ctx, d.name+" ping", db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w: %w", d.name, models.ErrTransport, err)
	}

	version, err := runMigrations(db, d)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	logger.Info("[storage] %s schema at version %d", d.name, version)
	return db, nil
}

func newSQLStore(db *sql.DB, d dialect, cleaner FieldCleaner, logger *utils.Logger) *sqlStore {
	if cleaner == nil {
		cleaner = identityCleaner{}
	}
	return &sqlStore{db: db, dialect: d, cleaner: cleaner, logger: logger}
}

func (s *sqlStore) q(query string) string { return s.dialect.rebind(query) }

// Exists reports whether a market with url is stored.
func (s *sqlStore) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM markets WHERE url = ? LIMIT 1`), url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistenceError("exists", url, err)
	}
	return true, nil
}

// Upsert writes the market row and replaces its sessions in one transaction.
// An empty imageURL keeps the stored one.
func (s *sqlStore) Upsert(ctx context.Context, rec *models.StructuredRecord, imageURL string) (int64, error) {
	if rec == nil || rec.URL == "" {
		return 0, persistenceError("upsert", "", models.ErrKeyMissing)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistenceError("upsert begin", rec.URL, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO markets (market_name, place, url, image_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			market_name = excluded.market_name,
			place       = excluded.place,
			image_url   = CASE WHEN excluded.image_url <> '' THEN excluded.image_url ELSE markets.image_url END,
			updated_at  = CURRENT_TIMESTAMP
		RETURNING id
	`), rec.MarketName, s.cleaner.Clean(rec.Place), rec.URL, imageURL).Scan(&id)
	if err != nil {
		return 0, persistenceError("upsert market", rec.URL, err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE market_id = ?`), id); err != nil {
		return 0, persistenceError("delete sessions", rec.URL, err)
	}

	insert := s.q(`
		INSERT INTO sessions (market_id, start_date, end_date, start_time, end_time, notes)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for _, sess := range rec.Sessions {
		_, err := tx.ExecContext(ctx, insert, id,
			s.sessionDate(rec.URL, sess.StartDate),
			s.sessionDate(rec.URL, sess.EndDate),
			s.cleaner.Clean(sess.StartTime),
			s.cleaner.Clean(sess.EndTime),
			s.cleaner.Clean(sess.Notes),
		)
		if err != nil {
			return 0, persistenceError("insert session", rec.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, persistenceError("upsert commit", rec.URL, err)
	}
	return id, nil
}

func (s *sqlStore) sessionDate(url, raw string) any {
	v, ok := dateValue(s.cleaner.Clean(raw))
	if !ok {
		s.logger.Warn("[storage] %s: invalid date %q for %s stored as NULL", s.dialect.name, raw, url)
	}
	return v
}

const marketColumns = `id, market_name, place, url, image_url, lat, lng`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (models.Market, error) {
	var (
		m        models.Market
		lat, lng sql.NullFloat64
	)
	if err := row.Scan(&m.ID, &m.MarketName, &m.Place, &m.URL, &m.ImageURL, &lat, &lng); err != nil {
		return m, err
	}
	if lat.Valid && lng.Valid {
		m.Lat, m.Lng = &lat.Float64, &lng.Float64
	}
	return m, nil
}

// ListAll returns every market, newest first.
func (s *sqlStore) ListAll(ctx context.Context) ([]models.Market, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: list markets: %w: %w", s.dialect.name, models.ErrPersistence, err)
	}
	defer rows.Close()

	var markets []models.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan market: %w", s.dialect.name, err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ListSessions returns the sessions of one market ordered by start date,
// undated sessions last in both dialects.
func (s *sqlStore) ListSessions(ctx context.Context, marketID int64) ([]models.MarketSession, error) {
	query := fmt.Sprintf(`
		SELECT id, market_id, %s, %s, start_time, end_time, notes
		FROM sessions
		WHERE market_id = ?
		ORDER BY start_date IS NULL, start_date, id
	`, s.dialect.dateExpr("start_date"), s.dialect.dateExpr("end_date"))

	rows, err := s.db.QueryContext(ctx, s.q(query), marketID)
	if err != nil {
		return nil, fmt.Errorf("%s: list sessions: %w: %w", s.dialect.name, models.ErrPersistence, err)
	}
	defer rows.Close()

	var sessions []models.MarketSession
	for rows.Next() {
		var (
			ms         models.MarketSession
			start, end sql.NullString
		)
		if err := rows.Scan(&ms.ID, &ms.MarketID, &start, &end, &ms.StartTime, &ms.EndTime, &ms.Notes); err != nil {
			return nil, fmt.Errorf("%s: scan session: %w", s.dialect.name, err)
		}
		ms.StartDate, ms.EndDate = start.String, end.String
		sessions = append(sessions, ms)
	}
	return sessions, rows.Err()
}

// GetMarket returns one market or ErrNotFound.
func (s *sqlStore) GetMarket(ctx context.Context, id int64) (*models.Market, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+marketColumns+` FROM markets WHERE id = ?`), id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get market %d: %w: %w", s.dialect.name, id, models.ErrPersistence, err)
	}
	return &m, nil
}

// UpdateCoordinates stores a geocoding result.
func (s *sqlStore) UpdateCoordinates(ctx context.Context, id int64, lat, lng float64) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE markets SET lat = ?, lng = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`), lat, lng, id)
	if err != nil {
		return fmt.Errorf("%s: update coordinates %d: %w: %w", s.dialect.name, id, models.ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
