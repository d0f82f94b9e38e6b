package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// AlertRecord 一条已受理告警的处理记录
type AlertRecord struct {
	ID         int64     `json:"id"`
	AlertID    string    `json:"alert_id"`
	DedupKey   string    `json:"dedup_key"`
	Sender     string    `json:"sender"`
	Action     string    `json:"action"`
	Pair       string    `json:"pair"`
	Total      string    `json:"total"`
	ReceivedAt time.Time `json:"received_at"`
	Outcome    string    `json:"outcome"`
}

// OrderRecord 一笔已提交成功的市价单
type OrderRecord struct {
	ID        int64     `json:"id"`
	AlertID   string    `json:"alert_id"`
	OrderID   int64     `json:"order_id"`
	Pair      string    `json:"pair"`
	Side      string    `json:"side"`
	Quantity  string    `json:"quantity"`
	Price     string    `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// Database 告警/订单流水（只写历史，不用于恢复持仓）
type Database struct {
	db *sql.DB
}

// NewDatabase 打开（或创建）SQLite 流水文件
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置WAL失败: %w", err)
	}

	d := &Database{db: db}
	if err := d.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// SaveAlert 保存告警处理结果；同一 dedup_key 只保留第一条
func (d *Database) SaveAlert(rec *AlertRecord) error {
	_, err := d.db.Exec(`INSERT INTO alerts (alert_id, dedup_key, sender, action, pair, total, received_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING`,
		rec.AlertID, rec.DedupKey, rec.Sender, rec.Action, rec.Pair, rec.Total, rec.ReceivedAt.UTC(), rec.Outcome)
	return err
}

// AlertExists 检查告警是否已处理过（用于跨重启去重）
func (d *Database) AlertExists(dedupKey string) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}

	var one int
	err := d.db.QueryRow(`SELECT 1 FROM alerts WHERE dedup_key = ? LIMIT 1`, dedupKey).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, err
}

// GetRecentAlerts 最近的告警（按受理时间倒序）
func (d *Database) GetRecentAlerts(limit int) ([]AlertRecord, error) {
	query := `SELECT id, alert_id, dedup_key, sender, action, pair, total, received_at, outcome
		FROM alerts ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AlertRecord
	for rows.Next() {
		var r AlertRecord
		if err := rows.Scan(&r.ID, &r.AlertID, &r.DedupKey, &r.Sender, &r.Action, &r.Pair, &r.Total, &r.ReceivedAt, &r.Outcome); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// SaveOrder 记录一笔已提交的订单
func (d *Database) SaveOrder(rec *OrderRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := d.db.Exec(`INSERT INTO orders (alert_id, order_id, pair, side, quantity, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.AlertID, rec.OrderID, rec.Pair, rec.Side, rec.Quantity, rec.Price, createdAt.UTC())
	return err
}

// GetOrdersByPair 某交易对的订单历史（按时间倒序）；pair 为空时返回全部
func (d *Database) GetOrdersByPair(pair string, limit int) ([]OrderRecord, error) {
	query := `SELECT id, alert_id, order_id, pair, side, quantity, price, created_at FROM orders`
	args := []interface{}{}
	if pair != "" {
		query += ` WHERE pair = ?`
		args = append(args, pair)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.AlertID, &r.OrderID, &r.Pair, &r.Side, &r.Quantity, &r.Price, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (d *Database) Close() error {
	return d.db.Close()
}
