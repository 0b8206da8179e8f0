package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DefaultMaxOpenConns = 5
	DefaultMaxIdleConns = 5
)

// PoolOptions bounds the connection pool shared by all store operations.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type database struct {
	db *gorm.DB
}

// New creates a new database connection
func New(ctx context.Context, dialect string, dsn string, pool PoolOptions, config *gorm.Config) (Database, error) {
	if config == nil {
		config = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	}
	config.TranslateError = true
	if config.NowFunc == nil {
		config.NowFunc = func() time.Time {
			return time.Now().UTC()
		}
	}

	var db *gorm.DB
	var err error

	switch dialect {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), config)
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), config)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = DefaultMaxOpenConns
	}
	if pool.MaxIdleConns <= 0 || pool.MaxIdleConns > pool.MaxOpenConns {
		pool.MaxIdleConns = pool.MaxOpenConns
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	db = db.WithContext(ctx)

	if err := db.AutoMigrate(
		&Record{},
		&AuditEntry{},
	); err != nil {
		return nil, err
	}

	d := &database{
		db: db,
	}
	return d, nil
}

func (d *database) FindActiveByNameAndOwner(ctx context.Context, name, ownerID string) (*Record, error) {
	return d.findOne(ctx, "record_name = ? and userid = ?", strings.ToLower(name), ownerID)
}

func (d *database) FindByName(ctx context.Context, name string) (*Record, error) {
	return d.findOne(ctx, "record_name = ?", strings.ToLower(name))
}

func (d *database) findOne(ctx context.Context, query string, args ...interface{}) (*Record, error) {
	record := Record{}
	sql := d.db.WithContext(ctx).Where(query, args...).Limit(1).Find(&record)
	if sql.Error != nil {
		return nil, unavailable(sql.Error)
	}
	if sql.RowsAffected == 0 {
		return nil, nil
	}
	return &record, nil
}

// Insert stores a new pending record. The unique index on record_name makes concurrent inserts
// of one name resolve to a single winner; the others get ErrConflict.
func (d *database) Insert(ctx context.Context, record *Record) error {
	record.ID = 0
	record.Name = strings.ToLower(record.Name)
	record.Approved = false
	record.CreatedAt = time.Time{}

	sql := d.db.WithContext(ctx).Create(record)
	if sql.Error != nil {
		if isDuplicate(sql.Error) {
			return ErrConflict
		}
		return unavailable(sql.Error)
	}
	return nil
}

func (d *database) Approve(ctx context.Context, name string) error {
	sql := d.db.WithContext(ctx).Model(&Record{}).
		Where("record_name = ? and approved = ?", strings.ToLower(name), false).
		Update("approved", true)
	if sql.Error != nil {
		return unavailable(sql.Error)
	}
	if sql.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByName removes the named record only while its approval state still equals approved.
func (d *database) DeleteByName(ctx context.Context, name string, approved bool) (Record, error) {
	record := Record{}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sql := forUpdate(tx).Where("record_name = ? and approved = ?", strings.ToLower(name), approved).
			Limit(1).Find(&record)
		if sql.Error != nil {
			return sql.Error
		}
		if sql.RowsAffected == 0 {
			return ErrNotFound
		}

		sql = tx.Where("approved = ?", approved).Delete(&Record{}, record.ID)
		if sql.Error != nil {
			return sql.Error
		}
		if sql.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return Record{}, storeError(err)
	}
	return record, nil
}

func (d *database) ListForOwner(ctx context.Context, ownerID string) ([]Record, error) {
	var records []Record
	sql := d.db.WithContext(ctx).Where("userid = ?", ownerID).
		Order("created_at desc").Order("id desc").Find(&records)
	if sql.Error != nil {
		return nil, unavailable(sql.Error)
	}
	return records, nil
}

func (d *database) ListAll(ctx context.Context) ([]Record, error) {
	var records []Record
	sql := d.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&records)
	if sql.Error != nil {
		return nil, unavailable(sql.Error)
	}
	return records, nil
}

// DeleteStalePending removes pending records created before cutoff and returns exactly the rows
// it removed. Selection and deletion share one transaction; if they disagree nothing is deleted.
func (d *database) DeleteStalePending(ctx context.Context, cutoff time.Time) ([]Record, error) {
	var records []Record
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sql := forUpdate(tx).Where("approved = ? and created_at < ?", false, cutoff.UTC()).
			Order("created_at").Find(&records)
		if sql.Error != nil {
			return sql.Error
		}
		if len(records) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}

		sql = tx.Where("id in ? and approved = ?", ids, false).Delete(&Record{})
		if sql.Error != nil {
			return sql.Error
		}
		if sql.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("stale pending selection changed during delete: selected %d, deleted %d", len(ids), sql.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return records, nil
}

func (d *database) ListStalePending(ctx context.Context, cutoff time.Time) ([]Record, error) {
	var records []Record
	sql := d.db.WithContext(ctx).Where("approved = ? and created_at < ?", false, cutoff.UTC()).
		Order("created_at").Find(&records)
	if sql.Error != nil {
		return nil, unavailable(sql.Error)
	}
	return records, nil
}

func (d *database) LogAudit(ctx context.Context, entry AuditEntry) error {
	entry.ID = 0
	sql := d.db.WithContext(ctx).Create(&entry)
	if sql.Error != nil {
		return unavailable(sql.Error)
	}
	return nil
}

func (d *database) ListAudit(ctx context.Context, limit, offset int) ([]AuditEntry, error) {
	var entries []AuditEntry
	sql := d.db.WithContext(ctx).Order("created_at desc").Order("id desc").
		Limit(limit).Offset(offset).Find(&entries)
	if sql.Error != nil {
		return nil, unavailable(sql.Error)
	}
	return entries, nil
}

func (d *database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return unavailable(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (d *database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// forUpdate row-locks the selection on servers that support it. sqlite serializes writers on
// its own and rejects FOR UPDATE.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func storeError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return unavailable(err)
}
