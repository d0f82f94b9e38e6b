package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mailtrader/config"
	"mailtrader/pkg/logger"
	"mailtrader/pkg/metrics"
	"mailtrader/signal"
)

// FillNotifier 下单成功后接收订单号做成交确认
type FillNotifier interface {
	Watch(pair string, orderID int64)
}

// OrderRecorder 订单流水（可选）
type OrderRecorder interface {
	SaveOrder(rec *config.OrderRecord) error
}

// Executor 根据交易意图和账本状态决定：新开仓 / 加仓 / 清仓 / 拒绝。
// 调用方（分发器）保证同一时刻只有一条意图在执行。
type Executor struct {
	exchange Exchange
	ledger   *Ledger
	watcher  FillNotifier
	recorder OrderRecorder
	log      *zap.Logger
}

// NewExecutor watcher 和 recorder 可以为 nil
func NewExecutor(exchange Exchange, ledger *Ledger, watcher FillNotifier, recorder OrderRecorder, log *zap.Logger) *Executor {
	return &Executor{
		exchange: exchange,
		ledger:   ledger,
		watcher:  watcher,
		recorder: recorder,
		log:      logger.OrNop(log),
	}
}

// Execute 执行一条交易意图。卖出未持有的交易对是正常的空操作，返回 nil。
func (e *Executor) Execute(ctx context.Context, intent *signal.TradeIntent) error {
	switch intent.Action {
	case signal.ActionBuy:
		return e.buy(ctx, intent)
	case signal.ActionSell:
		return e.sell(ctx, intent)
	default:
		e.log.Warn("⚠️ 不支持的交易动作",
			zap.String("alert_id", intent.AlertID),
			zap.String("action", string(intent.Action)),
			zap.String("pair", intent.Pair))
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, intent.Action)
	}
}

func (e *Executor) buy(ctx context.Context, intent *signal.TradeIntent) error {
	pair := intent.Pair
	log := e.log.With(zap.String("alert_id", intent.AlertID), zap.String("pair", pair))

	step, err := e.lotStep(ctx, pair)
	if err != nil {
		log.Warn("⚠️ 无法获取交易对信息，放弃买入", zap.Error(err))
		return err
	}

	// 以卖一价作为参考买价
	book, err := e.exchange.OrderBook(ctx, pair)
	if err != nil {
		log.Error("❌ 获取盘口失败", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	ask := book.BestAsk
	if !ask.IsPositive() {
		log.Error("❌ 盘口没有卖单")
		return fmt.Errorf("%w: empty ask side for %s", ErrPriceUnavailable, pair)
	}
	log.Info("📊 当前卖一价", zap.String("ask", ask.String()))

	qty := FloorToLot(intent.NotionalTotal, ask, step)
	if qty.IsZero() {
		log.Warn("⚠️ 金额不足一个最小数量单位，不下单",
			zap.String("total", intent.NotionalTotal.String()),
			zap.String("lot_step", step.String()))
		metrics.Orders.WithLabelValues(string(SideBuy), "skipped").Inc()
		return fmt.Errorf("%w: %s / %s < %s", ErrBelowLotSize, intent.NotionalTotal, ask, step)
	}
	qtyStr := FormatQuantity(qty, step)

	log.Info("🛒 市价买入", zap.String("quantity", qtyStr))
	order, err := e.exchange.PlaceMarketOrder(ctx, pair, SideBuy, qtyStr)
	if err != nil {
		log.Error("❌ 市价买入失败", zap.String("quantity", qtyStr), zap.Error(err))
		metrics.Orders.WithLabelValues(string(SideBuy), "rejected").Inc()
		return rejected(err)
	}
	metrics.Orders.WithLabelValues(string(SideBuy), "placed").Inc()

	state := e.ledger.OpenOrAccumulate(pair, qty, ask, order.OrderID, step)
	log.Info("✅ 市价买单已提交",
		zap.Int64("order_id", order.OrderID),
		zap.String("quantity", qtyStr),
		zap.String("position", FormatQuantity(state.Quantity, step)))

	e.record(intent, order.OrderID, SideBuy, qtyStr, ask)
	e.watch(pair, order)
	return nil
}

func (e *Executor) sell(ctx context.Context, intent *signal.TradeIntent) error {
	pair := intent.Pair
	log := e.log.With(zap.String("alert_id", intent.AlertID), zap.String("pair", pair))

	state, ok := e.ledger.Get(pair)
	if !ok || !state.IsOpen {
		log.Info("🟠 该交易对尚未交易，忽略卖出信号")
		metrics.Orders.WithLabelValues(string(SideSell), "skipped").Inc()
		return nil
	}

	qtyStr := FormatQuantity(state.Quantity, state.LotStep)
	log.Info("💰 市价卖出全部持仓", zap.String("quantity", qtyStr))
	order, err := e.exchange.PlaceMarketOrder(ctx, pair, SideSell, qtyStr)
	if err != nil {
		// 卖出失败，持仓保持不变
		log.Error("❌ 市价卖出失败", zap.String("quantity", qtyStr), zap.Error(err))
		metrics.Orders.WithLabelValues(string(SideSell), "rejected").Inc()
		return rejected(err)
	}
	metrics.Orders.WithLabelValues(string(SideSell), "placed").Inc()

	// 不等成交确认，按已计算数量直接清仓
	e.ledger.Close(pair)
	e.ledger.SetLastOrderID(pair, order.OrderID)
	log.Info("✅ 市价卖单已提交", zap.Int64("order_id", order.OrderID), zap.String("quantity", qtyStr))

	e.record(intent, order.OrderID, SideSell, qtyStr, decimal.Zero)
	e.watch(pair, order)
	return nil
}

// lotStep 已跟踪的交易对直接用缓存的步长，否则查询交易所
func (e *Executor) lotStep(ctx context.Context, pair string) (decimal.Decimal, error) {
	if state, ok := e.ledger.Get(pair); ok && state.LotStep.IsPositive() {
		return state.LotStep, nil
	}

	instruments, err := e.exchange.Instruments(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("获取交易对列表失败: %w", err)
	}
	for _, inst := range instruments {
		if inst.Symbol != pair {
			continue
		}
		if !inst.StepSize.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s has no lot size filter", ErrUnknownPair, pair)
		}
		return inst.StepSize, nil
	}
	e.log.Warn("🟡 交易所不存在该交易对", zap.String("pair", pair))
	return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
}

// watch 下单回执已是 FILLED 时直接记成交，不再轮询
func (e *Executor) watch(pair string, order *PlacedOrder) {
	if order.Status == OrderStatusFilled {
		e.log.Info("✅ 市价单已成交", zap.String("pair", pair), zap.Int64("order_id", order.OrderID))
		metrics.Fills.WithLabelValues("filled").Inc()
		return
	}
	if e.watcher != nil {
		e.watcher.Watch(pair, order.OrderID)
	}
}

func (e *Executor) record(intent *signal.TradeIntent, orderID int64, side Side, qty string, price decimal.Decimal) {
	if e.recorder == nil {
		return
	}
	rec := &config.OrderRecord{
		AlertID:   intent.AlertID,
		OrderID:   orderID,
		Pair:      intent.Pair,
		Side:      string(side),
		Quantity:  qty,
		CreatedAt: time.Now(),
	}
	if price.IsPositive() {
		rec.Price = price.String()
	}
	if err := e.recorder.SaveOrder(rec); err != nil {
		e.log.Warn("⚠️ 保存订单流水失败", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func rejected(err error) error {
	if errors.Is(err, ErrExchangeRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrExchangeRejected, err)
}
