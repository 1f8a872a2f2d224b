package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/farmdash/internal/errors"
)

// stateKey is the row holding the current snapshot.
const stateKey = "state"

// DefaultSlowQueryThreshold is the duration after which gorm logs a query as slow.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// Record is one key/value row of the snapshot table.
type Record struct {
	Key       string `gorm:"primaryKey;size:64"`
	Data      string `gorm:"type:longtext"`
	Version   int
	UpdatedAt time.Time
}

// TableName pins the table name regardless of gorm naming strategy.
func (Record) TableName() string { return "snapshot_records" }

// Repository stores snapshots in a SQL database through gorm.
type Repository struct {
	db      *gorm.DB
	backend string
}

// OpenSQLite opens (or creates) a sqlite database at path.
func OpenSQLite(path string, logger *slog.Logger) (*Repository, error) {
	if path == "" {
		return nil, errors.ValidationError("sqlite snapshot path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: createGormLogger(logger)})
	if err != nil {
		return nil, dbError(err, BackendSQLite, "open")
	}
	// A single connection keeps ":memory:" databases coherent and avoids SQLITE_BUSY.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return NewRepository(db, BackendSQLite)
}

// OpenMySQL connects to a MySQL server.
func OpenMySQL(cfg MySQLConfig, logger *slog.Logger) (*Repository, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, errors.ValidationError("mysql snapshot host and database are required")
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger(logger)})
	if err != nil {
		return nil, errors.New(err).
			Component("snapshot").
			Category(errors.CategoryDatabase).
			Context("backend", BackendMySQL).
			Context("operation", "open").
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}
	return NewRepository(db, BackendMySQL)
}

// NewRepository wraps an open gorm connection and migrates the snapshot table.
func NewRepository(db *gorm.DB, backend string) (*Repository, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, dbError(err, backend, "migrate")
	}
	return &Repository{db: db, backend: backend}, nil
}

func (r *Repository) Name() string { return r.backend }

// Load returns the stored snapshot or nil when the table is empty.
func (r *Repository) Load(ctx context.Context) (*Snapshot, error) {
	var rec Record
	result := r.db.WithContext(ctx).Where(&Record{Key: stateKey}).Limit(1).Find(&rec)
	if result.Error != nil {
		return nil, dbError(result.Error, r.backend, "load")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return decode([]byte(rec.Data))
}

// Save upserts the snapshot row.
func (r *Repository) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	rec := Record{
		Key:       stateKey,
		Data:      string(data),
		Version:   snap.Version,
		UpdatedAt: time.Now(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "version", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return dbError(err, r.backend, "save")
	}
	return nil
}

// Clear deletes the snapshot row.
func (r *Repository) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Delete(&Record{Key: stateKey}).Error; err != nil {
		return dbError(err, r.backend, "clear")
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return dbError(err, r.backend, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, r.backend, "close")
	}
	return nil
}

func createGormLogger(logger *slog.Logger) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	return gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             DefaultSlowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func dbError(err error, backend, op string) error {
	return errors.New(err).
		Component("snapshot").
		Category(errors.CategoryDatabase).
		Context("backend", backend).
		Context("operation", op).
		Build()
}
