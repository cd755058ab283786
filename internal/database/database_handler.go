package database

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"proxywarden/internal/domain"
	"proxywarden/internal/support"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	DB *gorm.DB
)

type Config struct {
	ExistingDB  *gorm.DB
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool
	Migrations  []any
}

type Option func(*Config)

func WithExistingDB(db *gorm.DB) Option {
	return func(cfg *Config) {
		cfg.ExistingDB = db
	}
}

func WithDialector(dialector gorm.Dialector) Option {
	return func(cfg *Config) {
		cfg.Dialector = dialector
	}
}

func WithAutoMigrate(enabled bool) Option {
	return func(cfg *Config) {
		cfg.AutoMigrate = enabled
	}
}

var currentDSN atomic.Value

func setDSN(dsn string) {
	if dsn == "" {
		return
	}
	currentDSN.Store(dsn)
}

func getDSN() string {
	if raw := currentDSN.Load(); raw != nil {
		if dsn, ok := raw.(string); ok {
			return dsn
		}
	}
	return ""
}

func SetupDB(opts ...Option) (*gorm.DB, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.ExistingDB != nil:
		DB = cfg.ExistingDB
	case cfg.Dialector != nil:
		gormCfg := &gorm.Config{}
		if cfg.Logger != nil {
			gormCfg.Logger = cfg.Logger
		}
		db, err := gorm.Open(cfg.Dialector, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: open connection: %w", err)
		}
		DB = db
		configureConnectionPool(db)
	default:
		return nil, fmt.Errorf("database: no dialector or existing connection provided")
	}

	if DB == nil {
		return nil, fmt.Errorf("database: connection was not configured")
	}

	if cfg.AutoMigrate && len(cfg.Migrations) > 0 {
		if err := DB.AutoMigrate(cfg.Migrations...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
		log.Info("Database migration completed.", "driver", DB.Dialector.Name())
	}

	if cfg.AutoMigrate {
		if err := ensureProxySchema(DB); err != nil {
			log.Error("Failed to ensure proxy schema", "error", err)
		}
	}

	return DB, nil
}

func defaultConfig() Config {
	return Config{
		Dialector:   defaultDialector(),
		Logger:      silentLogger(),
		AutoMigrate: support.GetEnvBool("DB_AUTO_MIGRATE", true),
		Migrations:  defaultMigrations(),
	}
}

func driverName() string {
	switch strings.ToLower(strings.TrimSpace(support.GetEnv("DB_DRIVER", DriverPostgres))) {
	case DriverSQLite, "sqlite3":
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

func defaultDialector() gorm.Dialector {
	if driverName() == DriverSQLite {
		path := support.GetEnv("DB_PATH", "proxywarden.db")
		dsn := fmt.Sprintf("file:%s?_journal=WAL&_fk=1&_busy_timeout=5000", path)
		setDSN(dsn)
		return sqlite.Open(dsn)
	}

	dsn := buildDSN()
	setDSN(dsn)
	return postgres.Open(dsn)
}

func buildDSN() string {
	dbHost := support.GetEnv("DB_HOST", "localhost")
	dbPort := support.GetEnv("DB_PORT", "5432")
	dbName := support.GetEnv("DB_NAME", "proxywarden")
	dbUser := support.GetEnv("DB_USERNAME", "proxywarden")
	dbPassword := support.GetEnv("DB_PASSWORD", "proxywarden")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		dbHost,
		dbPort,
		dbUser,
		dbPassword,
		dbName,
	)

	return dsn
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}

func defaultMigrations() []any {
	return []any{
		domain.Proxy{},
		domain.HarvestSource{},
		domain.BlockedRange{},
	}
}

func configureConnectionPool(db *gorm.DB) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Error("database: get sql.DB", "error", err)
		return
	}

	// sqlite allows a single writer; more connections only trade locks for busy errors
	defaultOpen := 32
	if db.Dialector.Name() == DriverSQLite {
		defaultOpen = 1
	}

	maxOpen := support.GetEnvInt("DB_MAX_OPEN_CONNS", defaultOpen)
	maxIdle := support.GetEnvInt("DB_MAX_IDLE_CONNS", maxOpen)
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	connLifetimeSeconds := support.GetEnvInt("DB_CONN_MAX_LIFETIME", 300)
	connIdleSeconds := support.GetEnvInt("DB_CONN_MAX_IDLE_TIME", 60)

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if connLifetimeSeconds > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(connLifetimeSeconds) * time.Second)
	}
	if connIdleSeconds > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(connIdleSeconds) * time.Second)
	}
}

// ensureProxySchema adds the partial indexes behind the ranked queries. Both
// drivers understand partial indexes.
func ensureProxySchema(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("nil database connection")
	}
	if !db.Migrator().HasTable(&domain.Proxy{}) {
		return nil
	}

	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_proxies_working_fastest ON proxies (response_time, id) WHERE status = 1 AND outdated = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_proxies_unchecked_fifo ON proxies (collected_at, id) WHERE status = 0 AND outdated = FALSE`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("proxy schema: %w", err)
		}
	}

	return nil
}

// Close releases the pool behind the global connection.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("database: get sql.DB: %w", err)
	}
	log.Debug("Closing database connection", "dsn_set", getDSN() != "")
	return sqlDB.Close()
}
