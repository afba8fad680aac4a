package database

import (
	"context"
	"fmt"
	"time"

	"github.com/chatpd/orchestrator/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database connection manager
type Manager struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *logrus.Logger
}

// Database configuration. An empty RedisURL skips the Redis connection.
type Config struct {
	DatabaseURL string
	RedisURL    string
	LogLevel    string
}

// gormLogLevel maps the service log level onto gorm's.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info", "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Silent
	}
}

// NewManager creates a new database manager with connection pooling
func NewManager(config *Config, logger *logrus.Logger) (*Manager, error) {
	gormLogger := gormlogger.New(logger, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLogLevel(config.LogLevel),
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	db, err := gorm.Open(postgres.Open(config.DatabaseURL), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := &Manager{
		DB:     db,
		logger: logger,
	}

	if config.RedisURL != "" {
		redisOpts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}

		redisOpts.PoolSize = 20
		redisOpts.MinIdleConns = 5
		redisOpts.MaxConnAge = time.Hour
		redisOpts.IdleTimeout = 30 * time.Minute
		redisOpts.IdleCheckFrequency = 30 * time.Second

		m.Redis = redis.NewClient(redisOpts)
		if err := m.Redis.Ping(ctx).Err(); err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"redis": m.Redis != nil,
	}).Info("Database connections established successfully")

	return m, nil
}

// Migrate creates the relational tables. The vector table and its search
// function are created by the SQL migrations.
func (m *Manager) Migrate() error {
	m.logger.Info("Running database migrations...")

	return m.DB.AutoMigrate(
		&models.RegulatoryRecord{},
		&models.LegalArticle{},
		&models.QueryCacheEntry{},
		&models.QueryLog{},
		&models.UserFeedback{},
		&models.PopularQuery{},
		&models.SystemHealth{},
	)
}

// Close closes all database connections
func (m *Manager) Close() error {
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close Redis connection")
		}
	}

	if m.DB != nil {
		sqlDB, err := m.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return nil
}

// Health check methods
func (m *Manager) PingDatabase(ctx context.Context) error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *Manager) PingRedis(ctx context.Context) error {
	if m.Redis == nil {
		return fmt.Errorf("redis is not configured")
	}
	return m.Redis.Ping(ctx).Err()
}
