package db

import (
	"context"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB is a thin wrapper over gorm that threads context through every call and
// serializes writes. Credential writes are whole-value replacements, so
// last-writer-wins under the lock is sufficient.
type DB struct {
	cli *gorm.DB
	mu  sync.Mutex
}

func NewDB(cli *gorm.DB) *DB {
	return &DB{
		cli: cli,
	}
}

func (db *DB) Create(ctx context.Context, value any, clauses []clause.Expression) *gorm.DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cli.WithContext(ctx).Clauses(clauses...).Create(value)
}

func (db *DB) Save(ctx context.Context, value any, clauses []clause.Expression) *gorm.DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cli.WithContext(ctx).Clauses(clauses...).Save(value)
}

func (db *DB) Delete(ctx context.Context, value any, conds ...any) *gorm.DB {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cli.WithContext(ctx).Delete(value, conds...)
}

func (db *DB) First(ctx context.Context, dest any, conds ...any) *gorm.DB {
	return db.cli.WithContext(ctx).First(dest, conds...)
}

func (db *DB) Raw(ctx context.Context, sql string, values ...any) *gorm.DB {
	return db.cli.WithContext(ctx).Raw(sql, values...)
}

func (db *DB) AutoMigrate(models ...any) error {
	return db.cli.AutoMigrate(models...)
}

func (db *DB) Client() *gorm.DB {
	return db.cli
}
