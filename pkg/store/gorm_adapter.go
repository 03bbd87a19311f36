package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"reelsync/pkg/domain"
)

// GormAdapter implements Adapter on Postgres through GORM. Each identity is
// a single row whose document lives in a jsonb column.
type GormAdapter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormAdapter opens the DB and runs auto-migrations.
func NewGormAdapter(dsn string) (*GormAdapter, error) {
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormAdapterWithDB(db)
}

// NewGormAdapterWithDB migrates and wraps an already opened database.
func NewGormAdapterWithDB(db *gorm.DB) (*GormAdapter, error) {
	if err := db.AutoMigrate(&UserStateModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormAdapter{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (g *GormAdapter) Name() string  { return "postgres" }
func (g *GormAdapter) IsAsync() bool { return true }

// Load fetches the row for id; a missing row yields defaults.
func (g *GormAdapter) Load(ctx context.Context, id string) (domain.UserState, error) {
	id, err := normalizeID(id)
	if err != nil {
		return domain.UserState{}, err
	}
	var m UserStateModel
	err = g.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyState(id), nil
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("load user state: %w", err)
	}
	return fromModel(m)
}

// Save upserts the whole document.
func (g *GormAdapter) Save(ctx context.Context, id string, state domain.UserState) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	m, err := toModel(id, state, g.now())
	if err != nil {
		return err
	}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "schema_version", "document", "last_active", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save user state: %w", err)
	}
	return nil
}

// Clear deletes the row for id.
func (g *GormAdapter) Clear(ctx context.Context, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	if err := g.db.WithContext(ctx).Where("id = ?", id).Delete(&UserStateModel{}).Error; err != nil {
		return fmt.Errorf("clear user state: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (g *GormAdapter) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
