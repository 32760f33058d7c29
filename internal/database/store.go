package database

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"proxygate/internal/domain"
	"proxygate/internal/support"
)

// Store persists proxy records in postgres. It backs the in-memory registry;
// every failure here is logged by the caller and never interrupts selection
// or checking.
type Store struct {
	db *gorm.DB
}

// Connect opens the record store and migrates the proxy table. Connection
// parameters come from the environment.
func Connect() (*Store, error) {
	db, err := gorm.Open(postgres.Open(buildDSN()), &gorm.Config{
		Logger: silentLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open connection: %w", err)
	}

	configureConnectionPool(db)

	if err := db.AutoMigrate(&domain.ProxyRecord{}); err != nil {
		return nil, fmt.Errorf("database: auto migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing connection, used by tests.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListProxies loads every persisted record for registry hydration at boot.
func (s *Store) ListProxies(ctx context.Context) ([]domain.ProxyRecord, error) {
	var records []domain.ProxyRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("database: list proxies: %w", err)
	}
	return records, nil
}

// SaveCheckResult writes the health fields a check mutates.
func (s *Store) SaveCheckResult(ctx context.Context, record domain.ProxyRecord) error {
	err := s.db.WithContext(ctx).
		Model(&domain.ProxyRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"is_working":   record.IsWorking,
			"latency":      record.Latency,
			"fail_count":   record.FailCount,
			"last_checked": record.LastChecked,
			"country":      record.Country,
		}).Error
	if err != nil {
		return fmt.Errorf("database: save check result for proxy %d: %w", record.ID, err)
	}
	return nil
}

// SaveLastUsed records a selection side effect.
func (s *Store) SaveLastUsed(ctx context.Context, id uint64, usedAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&domain.ProxyRecord{}).
		Where("id = ?", id).
		Update("last_used", usedAt).Error
	if err != nil {
		return fmt.Errorf("database: save last_used for proxy %d: %w", id, err)
	}
	return nil
}

func buildDSN() string {
	dbHost := support.GetEnv("DB_HOST", "localhost")
	dbPort := support.GetEnv("DB_PORT", "5432")
	dbName := support.GetEnv("DB_NAME", "proxygate")
	dbUser := support.GetEnv("DB_USERNAME", "admin")
	dbPassword := support.GetEnv("DB_PASSWORD", "admin")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost,
		dbPort,
		dbUser,
		dbPassword,
		dbName,
	)
}

func configureConnectionPool(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}
