package signal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"mailtrader/config"
	"mailtrader/pkg/logger"
	"mailtrader/pkg/metrics"
)

// 邮件处理结果（同时作为指标标签和日志字段）
const (
	ResultProcessed     = "processed"
	ResultFailed        = "failed"
	ResultMalformed     = "malformed"
	ResultIgnoredSender = "ignored_sender"
	ResultStale         = "stale"
	ResultUnreadable    = "unreadable"
	ResultNotAlert      = "not_alert"
	ResultDuplicate     = "duplicate"
)

// Executor 执行一条交易意图。返回的错误只用于记录，不会中断分发循环。
type Executor interface {
	Execute(ctx context.Context, intent *TradeIntent) error
}

// AlertStore 告警流水（可选）
type AlertStore interface {
	AlertExists(dedupKey string) (bool, error)
	SaveAlert(rec *config.AlertRecord) error
}

type DispatcherConfig struct {
	TrustedSender string
	MaxAge        time.Duration
	QueueSize     int
	DedupSize     int
}

type alertJob struct {
	id       string
	dedupKey string
	mail     *Mail
	body     string
}

// Dispatcher 告警分发器：过滤邮件，并保证同一时刻只有一条告警在走 解析→执行 流程。
// 过滤在投递时同步完成；通过过滤的告警进入有界队列，由唯一的 worker 按到达顺序消费。
type Dispatcher struct {
	cfg      DispatcherConfig
	parser   *Parser
	executor Executor
	store    AlertStore
	seen     *lru.Cache[string, struct{}]
	queue    chan *alertJob
	now      func() time.Time
	log      *zap.Logger

	startOnce sync.Once
	done      chan struct{}
}

// NewDispatcher store 可以为 nil（不记录流水）
func NewDispatcher(cfg DispatcherConfig, executor Executor, store AlertStore, log *zap.Logger) (*Dispatcher, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 1024
	}
	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("创建去重缓存失败: %w", err)
	}
	return &Dispatcher{
		cfg:      cfg,
		parser:   NewParser(),
		executor: executor,
		store:    store,
		seen:     seen,
		queue:    make(chan *alertJob, cfg.QueueSize),
		now:      time.Now,
		log:      logger.OrNop(log),
		done:     make(chan struct{}),
	}, nil
}

// Start 启动唯一的消费 worker
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Wait 等待 worker 退出（ctx 取消且当前告警处理完毕）
func (d *Dispatcher) Wait() {
	<-d.done
}

// OnMailEvent 邮件源回调。被过滤的邮件直接返回 nil；
// 队列满时阻塞等待，直到有空位或 ctx 取消。
func (d *Dispatcher) OnMailEvent(ctx context.Context, m *Mail) error {
	job, result := d.screen(m)
	if job == nil {
		metrics.Alerts.WithLabelValues(result).Inc()
		return nil
	}

	select {
	case d.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// screen 依次检查：发件人、邮件时效、正文可读、包含动作标记、是否重复
func (d *Dispatcher) screen(m *Mail) (*alertJob, string) {
	if m.From != d.cfg.TrustedSender {
		d.log.Info("📭 发件人不是告警服务，忽略", zap.String("from", m.From))
		return nil, ResultIgnoredSender
	}

	if age := d.now().Sub(m.ReceivedAt); age > d.cfg.MaxAge {
		d.log.Info("⏰ 邮件已过期，忽略",
			zap.String("from", m.From),
			zap.Duration("age", age),
			zap.Duration("max_age", d.cfg.MaxAge))
		return nil, ResultStale
	}

	body := m.Body()
	if body == "" {
		d.log.Error("❌ 邮件正文不可读，忽略", zap.String("from", m.From))
		return nil, ResultUnreadable
	}

	if !strings.Contains(body, ActionStartMarker) {
		d.log.Info("📩 邮件不含交易标记，忽略", zap.String("message_id", m.MessageID))
		return nil, ResultNotAlert
	}

	key := dedupKey(m, body)
	if d.store != nil {
		exists, err := d.store.AlertExists(key)
		if err != nil {
			d.log.Warn("⚠️ 查询告警流水失败，仅使用内存去重", zap.Error(err))
		} else if exists {
			d.log.Warn("🔁 重复告警，忽略", zap.String("dedup_key", key))
			return nil, ResultDuplicate
		}
	}
	if found, _ := d.seen.ContainsOrAdd(key, struct{}{}); found {
		d.log.Warn("🔁 重复告警，忽略", zap.String("dedup_key", key))
		return nil, ResultDuplicate
	}

	return &alertJob{
		id:       uuid.NewString(),
		dedupKey: key,
		mail:     m,
		body:     body,
	}, ""
}

// dedupKey 优先使用 Message-ID，没有时对发件人+正文取摘要
func dedupKey(m *Mail, body string) string {
	if id := strings.TrimSpace(m.MessageID); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(m.From + "\n" + body))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	d.log.Info("👂 开始监听交易告警...")
	for {
		select {
		case job := <-d.queue:
			d.process(ctx, job)
			d.log.Info("👂 继续监听新的交易告警...")
		case <-ctx.Done():
			d.log.Info("🛑 告警分发器已停止", zap.Int("pending", len(d.queue)))
			return
		}
	}
}

// process 在 worker 中同步跑完一条告警；已发出的交易所请求不随 ctx 取消。
func (d *Dispatcher) process(ctx context.Context, job *alertJob) {
	ctx = context.WithoutCancel(ctx)
	log := d.log.With(zap.String("alert_id", job.id))

	intent, err := d.parser.Parse(job.body)
	if err != nil {
		log.Warn("❌ 告警解析失败", zap.Error(err))
		d.finish(job, nil, ResultMalformed)
		return
	}
	intent.AlertID = job.id

	log.Info("📨 处理交易告警",
		zap.String("action", string(intent.Action)),
		zap.String("pair", intent.Pair),
		zap.String("total", intent.NotionalTotal.String()))

	result := ResultProcessed
	if err := d.executor.Execute(ctx, intent); err != nil {
		log.Warn("⚠️ 告警未产生订单", zap.String("pair", intent.Pair), zap.Error(err))
		result = ResultFailed
	}
	d.finish(job, intent, result)
}

func (d *Dispatcher) finish(job *alertJob, intent *TradeIntent, result string) {
	metrics.Alerts.WithLabelValues(result).Inc()
	if d.store == nil {
		return
	}

	rec := &config.AlertRecord{
		AlertID:    job.id,
		DedupKey:   job.dedupKey,
		Sender:     job.mail.From,
		ReceivedAt: job.mail.ReceivedAt,
		Outcome:    result,
	}
	if intent != nil {
		rec.Action = string(intent.Action)
		rec.Pair = intent.Pair
		rec.Total = intent.NotionalTotal.String()
	}
	if err := d.store.SaveAlert(rec); err != nil {
		d.log.Warn("⚠️ 保存告警流水失败", zap.String("alert_id", job.id), zap.Error(err))
	}
}
