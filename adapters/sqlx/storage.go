// Package sqlx stores profiles and group flags in PostgreSQL or MySQL.
package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"levelbot/core"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver        `json:"driver" yaml:"driver" env:"LEVELBOT_SQL_DRIVER"`
	DSN             string        `json:"dsn,omitempty" yaml:"dsn" env:"LEVELBOT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// AutoMigrate creates the tables on New when missing.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"LEVELBOT_SQL_AUTO_MIGRATE"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// Store implements engine.ProfileStore and engine.GroupStore.
// Tables:
// - profiles(id, user_id, xp, level, data, updated_at): data is the profile
//   JSON, id orders profiles by insertion
// - group_features(group_id, feature, enabled)
type Store struct {
	db     *sqlx.DB
	driver Driver
}

func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New("dsn is required")
	}
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing)
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

var schema = map[Driver][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS profiles (
			id BIGSERIAL UNIQUE,
			user_id TEXT PRIMARY KEY,
			xp BIGINT NOT NULL DEFAULT 0,
			level BIGINT NOT NULL DEFAULT 1,
			data TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_features (
			group_id TEXT NOT NULL,
			feature TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			PRIMARY KEY (group_id, feature)
		)`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS profiles (
			id BIGINT AUTO_INCREMENT UNIQUE,
			user_id VARCHAR(191) PRIMARY KEY,
			xp BIGINT NOT NULL DEFAULT 0,
			level BIGINT NOT NULL DEFAULT 1,
			data MEDIUMTEXT NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_features (
			group_id VARCHAR(191) NOT NULL,
			feature VARCHAR(64) NOT NULL,
			enabled BOOLEAN NOT NULL,
			PRIMARY KEY (group_id, feature)
		)`,
	},
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type profileRow struct {
	UserID string `db:"user_id"`
	Data   string `db:"data"`
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT user_id, data FROM profiles WHERE user_id = ?`), string(user))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, false, nil
	}
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("get profile: %w", err)
	}
	var p core.Profile
	if err := json.Unmarshal([]byte(row.Data), &p); err != nil {
		slog.Warn("corrupt profile record, using defaults", "store", "sql", "user", user, "error", err)
		return core.NewProfile(user), true, nil
	}
	p.ID = user
	return p, true, nil
}

// SetProfile merges patch into the stored profile inside a transaction that
// locks the row.
func (s *Store) SetProfile(ctx context.Context, user core.UserID, patch core.ProfilePatch) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p := core.NewProfile(user)
	var data string
	err = tx.GetContext(ctx, &data, tx.Rebind(`SELECT data FROM profiles WHERE user_id = ? FOR UPDATE`), string(user))
	exists := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return fmt.Errorf("select profile: %w", err)
	default:
		if jerr := json.Unmarshal([]byte(data), &p); jerr != nil {
			p = core.NewProfile(user)
		}
		p.ID = user
	}

	p.Apply(patch)
	p.Updated = time.Now().UTC()
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			tx.Rebind(`UPDATE profiles SET xp = ?, level = ?, data = ?, updated_at = ? WHERE user_id = ?`),
			p.XP, p.Level, string(b), p.Updated, string(user))
	} else {
		_, err = tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO profiles (user_id, xp, level, data, updated_at) VALUES (?, ?, ?, ?, ?)`),
			string(user), p.XP, p.Level, string(b), p.Updated)
	}
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListProfiles returns all profiles in insertion order. Undecodable rows come
// back as default profiles.
func (s *Store) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, data FROM profiles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]core.Profile, 0, len(rows))
	for _, r := range rows {
		id := core.UserID(r.UserID)
		var p core.Profile
		if err := json.Unmarshal([]byte(r.Data), &p); err != nil {
			p = core.NewProfile(id)
		}
		p.ID = id
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) IsFeatureEnabled(ctx context.Context, group core.GroupID, feature string) (bool, error) {
	var enabled bool
	err := s.db.GetContext(ctx, &enabled,
		s.db.Rebind(`SELECT enabled FROM group_features WHERE group_id = ? AND feature = ?`),
		string(group), feature)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read feature flag: %w", err)
	}
	return enabled, nil
}

func (s *Store) SetFeature(ctx context.Context, group core.GroupID, feature string, enabled bool) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO group_features (group_id, feature, enabled) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE enabled = VALUES(enabled)`
	default:
		q = `INSERT INTO group_features (group_id, feature, enabled) VALUES (?, ?, ?)
			ON CONFLICT (group_id, feature) DO UPDATE SET enabled = EXCLUDED.enabled`
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), string(group), feature, enabled); err != nil {
		return fmt.Errorf("set feature flag: %w", err)
	}
	return nil
}
