package config

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"mailtrader/pkg/logger"
)

// 当前流水库版本号
const CurrentSchemaVersion = 2

// Migration 迁移函数类型，在事务内执行
type Migration func(*sql.Tx) error

type migrationStep struct {
	description string
	apply       Migration
}

// migrations 所有迁移脚本，按版本号顺序
var migrations = map[int]migrationStep{
	1: {"创建 alerts / orders 表", migrationV1},
	2: {"添加查询索引", migrationV2},
}

func migrationV1(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			dedup_key TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			action TEXT NOT NULL DEFAULT '',
			pair TEXT NOT NULL DEFAULT '',
			total TEXT NOT NULL DEFAULT '',
			received_at DATETIME NOT NULL,
			outcome TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL DEFAULT '',
			order_id INTEGER NOT NULL,
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
	}
	return execAll(tx, queries)
}

func migrationV2(tx *sql.Tx) error {
	return execAll(tx, []string{
		`CREATE INDEX IF NOT EXISTS idx_orders_pair ON orders(pair, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_outcome ON alerts(outcome)`,
	})
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// ensureSchemaVersionTable 确保 schema_version 表存在
func ensureSchemaVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`)
	return err
}

// getCurrentSchemaVersion 没有版本记录时返回 0
func getCurrentSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

// RunMigrations 把流水库升级到 CurrentSchemaVersion，已是最新时什么都不做
func (d *Database) RunMigrations() error {
	log := logger.NewModuleLogger("journal")

	if err := ensureSchemaVersionTable(d.db); err != nil {
		return fmt.Errorf("创建 schema_version 表失败: %w", err)
	}
	current, err := getCurrentSchemaVersion(d.db)
	if err != nil {
		return fmt.Errorf("获取当前数据库版本失败: %w", err)
	}
	if current >= CurrentSchemaVersion {
		return nil
	}

	log.Info("🔄 升级流水库", zap.Int("from", current), zap.Int("to", CurrentSchemaVersion))
	for version := current + 1; version <= CurrentSchemaVersion; version++ {
		step, ok := migrations[version]
		if !ok {
			return fmt.Errorf("缺少迁移 v%d", version)
		}

		tx, err := d.db.Begin()
		if err != nil {
			return err
		}
		if err := step.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("执行迁移 v%d 失败: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, description) VALUES (?, ?)`, version, step.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("记录迁移版本失败: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Info("✅ 迁移完成", zap.Int("version", version), zap.String("description", step.description))
	}
	return nil
}
