package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailtrader/pkg/logger"
	"mailtrader/pkg/metrics"
)

// FillWatcherConfig 轮询间隔为 0 时立即重查
type FillWatcherConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	MaxAttempts  int
}

// FillWatcher 下单后轮询订单状态直到成交，仅用于确认和日志。
// 持仓记账在执行器里已经完成，这里的失败不影响账本。
type FillWatcher struct {
	exchange Exchange
	cfg      FillWatcherConfig
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewFillWatcher(exchange Exchange, cfg FillWatcherConfig, log *zap.Logger) *FillWatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 600
	}
	return &FillWatcher{
		exchange: exchange,
		cfg:      cfg,
		log:      logger.OrNop(log),
	}
}

// Watch 异步确认成交，不阻塞调用方
func (w *FillWatcher) Watch(pair string, orderID int64) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
		defer cancel()
		_ = w.confirm(ctx, pair, orderID)
	}()
}

// Wait 等待所有进行中的确认结束
func (w *FillWatcher) Wait() {
	w.wg.Wait()
}

func (w *FillWatcher) confirm(ctx context.Context, pair string, orderID int64) error {
	log := w.log.With(zap.String("pair", pair), zap.Int64("order_id", orderID))

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		status, err := w.exchange.OrderStatus(ctx, pair, orderID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			// 查询失败直接放弃，不重试
			log.Debug("订单状态查询失败，停止确认", zap.Error(err))
			metrics.Fills.WithLabelValues("query_failed").Inc()
			return fmt.Errorf("%w: %v", ErrFillQueryFailed, err)
		}
		if status == OrderStatusFilled {
			log.Info("✅ 市价单已成交", zap.Int("attempts", attempt))
			metrics.Fills.WithLabelValues("filled").Inc()
			return nil
		}
		log.Debug("⏳ 市价单尚未成交", zap.String("status", string(status)))

		if w.cfg.PollInterval > 0 {
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Warn("⚠️ 市价单确认超时",
		zap.Duration("timeout", w.cfg.Timeout),
		zap.Int("max_attempts", w.cfg.MaxAttempts))
	metrics.Fills.WithLabelValues("timeout").Inc()
	return ErrFillTimeout
}
