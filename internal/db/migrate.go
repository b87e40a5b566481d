package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.execMigrationSQL(ctx, "pre-auto-migrate", preAutoMigrateSQL); err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	return p.execMigrationSQL(ctx, "post-auto-migrate", postAutoMigrateSQL)
}

func (p *Pool) execMigrationSQL(ctx context.Context, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if err := p.db.WithContext(ctx).Exec(trimmed).Error; err != nil {
		return fmt.Errorf("execute %s SQL: %w", label, err)
	}
	return nil
}
