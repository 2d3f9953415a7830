// Package gormstore implements the record, order and metadata cache repositories on gorm,
// for SQLite and PostgreSQL.
package gormstore

import (
	"context"

	"gorm.io/gorm"
)

// Pinger reports whether the underlying database answers.
type Pinger struct {
	db *gorm.DB
}

func NewPinger(db *gorm.DB) *Pinger {
	return &Pinger{db: db}
}

func (p *Pinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
