// Package postgres provides a PostgreSQL-backed transaction store.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds the PostgreSQL store configuration.
type Config struct {
	// URL is a libpq connection string or postgres:// URL.
	URL string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

// Store persists transactions in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to the database, applies the embedded schema and returns a store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "postgres")

	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	s.logger.Info("running database migrations")

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	s.logger.Info("migrations completed successfully")
	return nil
}

const selectColumns = `id::text, user_id, type, amount::text, account, counterparty, date,
	reference, category, description, source_id, created_at`

func scanTransaction(row pgx.Row) (*api.Transaction, error) {
	var (
		txn      api.Transaction
		txnType  string
		amount   string
		category *string
	)
	err := row.Scan(&txn.ID, &txn.UserID, &txnType, &amount, &txn.Account, &txn.Counterparty,
		&txn.Date, &txn.Reference, &category, &txn.Description, &txn.SourceID, &txn.CreatedAt)
	if err != nil {
		return nil, err
	}

	txn.Type = api.TxnType(txnType)
	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decoding amount %q: %w", amount, err)
	}
	if category != nil {
		txn.Category = api.Category(*category)
	}
	txn.Date = txn.Date.UTC()
	txn.CreatedAt = txn.CreatedAt.UTC()

	return &txn, nil
}

// FindByReference implements store.Store.
func (s *Store) FindByReference(ctx context.Context, userID, reference string) (*api.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM transactions WHERE user_id = $1 AND reference = $2`,
		userID, reference)

	txn, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding transaction by reference: %w", err)
	}
	return txn, nil
}

// Save implements store.Store. A conflicting reference inserts nothing and
// yields store.ErrDuplicate.
func (s *Store) Save(ctx context.Context, txn *api.Transaction) (*api.Transaction, error) {
	var category *string
	if txn.Category != "" {
		c := string(txn.Category)
		category = &c
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			id, user_id, type, amount, account, counterparty, date,
			reference, category, description, source_id
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, reference) DO NOTHING
		RETURNING `+selectColumns,
		uuid.NewString(),
		txn.UserID,
		string(txn.Type),
		txn.Amount.String(),
		txn.Account,
		txn.Counterparty,
		txn.Date,
		txn.Reference,
		category,
		txn.Description,
		txn.SourceID,
	)

	saved, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("inserting transaction: %w", err)
	}
	return saved, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, userID string, f store.Filter) ([]*api.Transaction, error) {
	query, args := listQuery(userID, f)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var result []*api.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		result = append(result, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}

	return result, nil
}

func listQuery(userID string, f store.Filter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Type != "" {
		conds = append(conds, "type = "+arg(string(f.Type)))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(string(f.Category)))
	}
	if since, ok := f.Since(); ok {
		conds = append(conds, "date >= "+arg(since))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		conds = append(conds, fmt.Sprintf("(counterparty ILIKE %s OR reference ILIKE %s)", p, p))
	}

	query := `SELECT ` + selectColumns + ` FROM transactions WHERE ` +
		strings.Join(conds, " AND ") +
		` ORDER BY date DESC, created_at DESC, reference DESC`

	return query, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// UpdateCategory implements store.Store.
func (s *Store) UpdateCategory(ctx context.Context, userID, id string, category api.Category) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET category = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`,
		string(category), id, userID)
	if err != nil {
		return fmt.Errorf("updating category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// References implements store.Store.
func (s *Store) References(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT reference FROM transactions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}

	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting references: %w", err)
	}

	set := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		set[ref] = struct{}{}
	}
	return set, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}
