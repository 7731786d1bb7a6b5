package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// withTx runs fn in one serializable transaction and commits when fn
// returns nil. Any error rolls back everything fn wrote.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (s *Store) CheckAvailability(ctx context.Context, storeID string, productIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM product_stocks
		WHERE store_id = $1 AND product_id = ANY($2) AND qty > 0
	`, domain.NormalizeStoreID(storeID), productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ReceiveStock(ctx context.Context, storeID string, productID string, qty int) (domain.StockLevel, error) {
	key := domain.NormalizeStoreID(storeID)
	productID = strings.TrimSpace(productID)
	if key == "" || productID == "" || qty < 1 {
		return domain.StockLevel{}, store.ErrValidation
	}

	level := domain.StockLevel{StoreID: key, ProductID: productID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO product_stocks (store_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET qty = product_stocks.qty + EXCLUDED.qty, updated_at = now()
		RETURNING qty
	`, key, productID, qty).Scan(&level.Qty)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return level, nil
}

// lockStock reads the stock rows of one store under FOR UPDATE. Rows are
// locked in product id order so concurrent sales cannot deadlock.
func lockStock(ctx context.Context, tx *sql.Tx, storeKey string, productIDs []string) (map[string]int, error) {
	ids := append([]string(nil), productIDs...)
	sort.Strings(ids)

	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, qty
		FROM product_stocks
		WHERE store_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE
	`, storeKey, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stock := make(map[string]int, len(ids))
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		stock[productID] = qty
	}
	return stock, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, `
		SELECT id, name, credit_limit_cents, credit_used_cents, created_at
		FROM clients
		WHERE id = $1
	`, clientID))
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" || client.CreditLimitCents < 0 || client.CreditUsedCents < 0 {
		return nil, store.ErrValidation
	}
	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, credit_limit_cents, credit_used_cents, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, client.ID, client.Name, client.CreditLimitCents, client.CreditUsedCents, client.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: client %s already exists", store.ErrValidation, client.ID)
		}
		return nil, err
	}
	saved := client
	return &saved, nil
}

func lockClient(ctx context.Context, tx *sql.Tx, clientID string) (*domain.Client, error) {
	return scanClient(tx.QueryRowContext(ctx, `
		SELECT id, name, credit_limit_cents, credit_used_cents, created_at
		FROM clients
		WHERE id = $1
		FOR UPDATE
	`, clientID))
}

func scanClient(row *sql.Row) (*domain.Client, error) {
	var client domain.Client
	err := row.Scan(&client.ID, &client.Name, &client.CreditLimitCents, &client.CreditUsedCents, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	client.CreatedAt = client.CreatedAt.UTC()
	return &client, nil
}

func (s *Store) SetCreditUsed(ctx context.Context, clientID string, creditUsedCents int64) error {
	if creditUsedCents < 0 {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET credit_used_cents = $2 WHERE id = $1
	`, clientID, creditUsedCents)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}

func int64Ptr(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	v := val.Int64
	return &v
}
