package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, gormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel("info"))
	assert.Equal(t, gormlogger.Error, gormLogLevel("error"))
	assert.Equal(t, gormlogger.Silent, gormLogLevel(""))
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return &Manager{DB: db, logger: logrus.New()}, mock
}

func TestPingDatabase(t *testing.T) {
	m, mock := newTestManager(t)
	mock.ExpectPing()

	assert.NoError(t, m.PingDatabase(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingRedis(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.PingRedis(context.Background()), "unconfigured redis reports an error")

	mr := miniredis.RunT(t)
	m.Redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	assert.NoError(t, m.PingRedis(context.Background()))

	mr.Close()
	assert.Error(t, m.PingRedis(context.Background()))
}
