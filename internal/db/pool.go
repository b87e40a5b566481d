package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"horse.fit/pageid/internal/config"
)

const (
	advisoryLockNamespace = "pageid"

	// DefaultLockTimeout bounds lock waits inside WithAdvisoryLock.
	DefaultLockTimeout = 5 * time.Second
)

var ErrNoRows = sql.ErrNoRows

type CommandTag struct {
	rowsAffected int64
}

func (c CommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	if r == nil || r.rows == nil {
		return false
	}
	return r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r == nil || r.rows == nil {
		return
	}
	_ = r.rows.Close()
}

// Querier is satisfied by both Pool and Tx so query helpers run inside or outside a transaction.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
}

type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type gormQuerier struct {
	db *gorm.DB
}

func (q gormQuerier) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if q.db == nil {
		return &Row{}
	}
	return &Row{row: q.db.WithContext(ctx).Raw(query, args...).Row()}
}

func (q gormQuerier) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if q.db == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	rows, err := q.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (q gormQuerier) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if q.db == nil {
		return CommandTag{}, fmt.Errorf("database pool is not initialized")
	}
	res := q.db.WithContext(ctx).Exec(query, args...)
	return CommandTag{rowsAffected: res.RowsAffected}, res.Error
}

type gormTx struct {
	gormQuerier
}

func (t *gormTx) Commit(ctx context.Context) error {
	return t.db.WithContext(ctx).Commit().Error
}

func (t *gormTx) Rollback(ctx context.Context) error {
	return t.db.WithContext(ctx).Rollback().Error
}

type Pool struct {
	gormQuerier
	Queries
	sqlDB       *sql.DB
	lockTimeout time.Duration
}

func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	pool, err := NewPoolWithDB(gdb, cfg.DBLockTimeout)
	if err != nil {
		return nil, err
	}

	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = 8
	}
	pool.sqlDB.SetMaxOpenConns(maxOpen)
	pool.sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	pool.sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	pool.sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := pool.sqlDB.PingContext(ctx); err != nil {
		_ = pool.sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = pool.sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}

	return pool, nil
}

// NewPoolWithDB wraps an opened gorm handle without pinging or migrating it. A non-positive
// lockTimeout uses DefaultLockTimeout.
func NewPoolWithDB(gdb *gorm.DB, lockTimeout time.Duration) (*Pool, error) {
	if gdb == nil {
		return nil, fmt.Errorf("gorm database is nil")
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}

	pool := &Pool{
		gormQuerier: gormQuerier{db: gdb},
		sqlDB:       sqlDB,
		lockTimeout: lockTimeout,
	}
	pool.Queries = Queries{q: pool.gormQuerier, begin: pool.BeginTx}
	return pool, nil
}

func (p *Pool) BeginTx(ctx context.Context) (Tx, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	tx := p.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{gormQuerier{db: tx}}, nil
}

// WithAdvisoryLock runs fn inside a transaction holding a transaction-scoped advisory lock derived
// from key. fn must use the Queries it receives so that all of its statements share the locked
// connection. Waiting for the lock, and any other lock wait in the transaction, fails after the
// pool's lock timeout. The transaction commits when fn returns nil and rolls back otherwise.
func (p *Pool) WithAdvisoryLock(ctx context.Context, key string, fn func(ctx context.Context, q Queries) error) (err error) {
	if p == nil || p.db == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	tx, err := p.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin lock transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", lockTimeoutSetting(p.lockTimeout)); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))", advisoryLockNamespace, key); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err = fn(ctx, Queries{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lock transaction: %w", err)
	}
	return nil
}

func lockTimeoutSetting(timeout time.Duration) string {
	return fmt.Sprintf("%dms", max(1, timeout.Milliseconds()))
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	level := strings.ToLower(strings.TrimSpace(appLogLevel))
	switch level {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "disabled":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}
