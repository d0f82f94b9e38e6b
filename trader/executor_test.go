package trader

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrader/config"
	"mailtrader/pkg/metrics"
	"mailtrader/signal"
)

type memoryRecorder struct {
	orders []*config.OrderRecord
}

func (r *memoryRecorder) SaveOrder(rec *config.OrderRecord) error {
	r.orders = append(r.orders, rec)
	return nil
}

func buyIntent(pair, total string) *signal.TradeIntent {
	return &signal.TradeIntent{AlertID: "alert-" + pair, Action: signal.ActionBuy, Pair: pair, NotionalTotal: dec(total)}
}

func sellIntent(pair string) *signal.TradeIntent {
	return &signal.TradeIntent{AlertID: "alert-" + pair, Action: signal.ActionSell, Pair: pair}
}

func newTestExecutor(ex Exchange) (*Executor, *Ledger, *fakeWatcher, *memoryRecorder) {
	ledger := NewLedger()
	watcher := &fakeWatcher{}
	rec := &memoryRecorder{}
	return NewExecutor(ex, ledger, watcher, rec, nil), ledger, watcher, rec
}

func TestExecuteFirstBuyOpensPosition(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, watcher, rec := newTestExecutor(ex)

	require.NoError(t, exec.Execute(context.Background(), buyIntent("ETHUSDT", "1000")))

	calls := ex.placedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, placedCall{pair: "ETHUSDT", side: SideBuy, quantity: "4.00"}, calls[0])

	state, ok := ledger.Get("ETHUSDT")
	require.True(t, ok)
	assert.True(t, state.IsOpen)
	assert.Equal(t, "4", state.Quantity.String())
	assert.Equal(t, "250", state.LastBuyPrice.String())
	assert.Equal(t, "0.01", state.LotStep.String())
	assert.Equal(t, int64(101), state.LastOrderID)

	assert.Equal(t, []watchCall{{"ETHUSDT", 101}}, watcher.calls)
	require.Len(t, rec.orders, 1)
	assert.Equal(t, "BUY", rec.orders[0].Side)
	assert.Equal(t, "4.00", rec.orders[0].Quantity)
	assert.Equal(t, "250", rec.orders[0].Price)
	assert.Equal(t, "alert-ETHUSDT", rec.orders[0].AlertID)
}

func TestExecuteRepeatedBuysAccumulateThenSellLiquidates(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, _, _ := newTestExecutor(ex)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, buyIntent("BTCUSDT", "100"))) // 0.003
	first, _ := ledger.Get("BTCUSDT")

	ex.asks["BTCUSDT"] = dec("25000")
	require.NoError(t, exec.Execute(ctx, buyIntent("BTCUSDT", "100"))) // 0.004
	second, _ := ledger.Get("BTCUSDT")

	assert.True(t, second.Quantity.GreaterThan(first.Quantity))
	assert.Equal(t, "0.007", second.Quantity.String())
	// 交易对信息只查询一次
	assert.Equal(t, 1, ex.instrumentCalls)

	require.NoError(t, exec.Execute(ctx, sellIntent("BTCUSDT")))
	calls := ex.placedCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "0.003", calls[0].quantity)
	assert.Equal(t, "0.004", calls[1].quantity)
	assert.Equal(t, placedCall{pair: "BTCUSDT", side: SideSell, quantity: "0.007"}, calls[2])

	closed, ok := ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.False(t, closed.IsOpen)
	assert.True(t, closed.Quantity.IsZero())
	assert.Equal(t, int64(103), closed.LastOrderID)
	assert.Equal(t, "0.001", closed.LotStep.String())
}

func TestExecuteBuyAfterCloseReusesCachedLotStep(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, _, _ := newTestExecutor(ex)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, buyIntent("ETHUSDT", "500")))
	require.NoError(t, exec.Execute(ctx, sellIntent("ETHUSDT")))
	require.NoError(t, exec.Execute(ctx, buyIntent("ETHUSDT", "250")))

	assert.Equal(t, 1, ex.instrumentCalls)
	state, _ := ledger.Get("ETHUSDT")
	assert.True(t, state.IsOpen)
	assert.Equal(t, "1", state.Quantity.String())
}

func TestExecuteSellWithoutPositionIsNoop(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, watcher, rec := newTestExecutor(ex)

	require.NoError(t, exec.Execute(context.Background(), sellIntent("BTCUSDT")))

	assert.Zero(t, ex.totalCalls())
	_, ok := ledger.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Empty(t, watcher.calls)
	assert.Empty(t, rec.orders)
}

func TestExecuteSellClosedPositionIsNoop(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, _, _ := newTestExecutor(ex)
	ledger.OpenOrAccumulate("BTCUSDT", dec("0.002"), dec("30000"), 5, dec("0.001"))
	ledger.Close("BTCUSDT")

	require.NoError(t, exec.Execute(context.Background(), sellIntent("BTCUSDT")))
	assert.Empty(t, ex.placedCalls())
}

func TestExecuteUnknownPair(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), buyIntent("FOOBAR", "100"))
	assert.ErrorIs(t, err, ErrUnknownPair)
	assert.Empty(t, ex.placedCalls())
	assert.Zero(t, ex.bookCalls)
	_, ok := ledger.Get("FOOBAR")
	assert.False(t, ok)
}

func TestExecutePairWithoutLotSizeFilter(t *testing.T) {
	ex := newFakeExchange()
	exec, _, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), buyIntent("NOLOTUSDT", "100"))
	assert.ErrorIs(t, err, ErrUnknownPair)
	assert.Empty(t, ex.placedCalls())
}

func TestExecuteInstrumentQueryFailure(t *testing.T) {
	ex := newFakeExchange()
	ex.instrumentsErr = errBoom
	exec, _, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), buyIntent("BTCUSDT", "100"))
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, ex.placedCalls())
}

func TestExecuteBuyRejectedLeavesLedgerUntouched(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, watcher, rec := newTestExecutor(ex)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, buyIntent("ETHUSDT", "500")))
	before, _ := ledger.Get("ETHUSDT")

	ex.placeErr = errBoom
	err := exec.Execute(ctx, buyIntent("ETHUSDT", "500"))
	assert.ErrorIs(t, err, ErrExchangeRejected)

	after, _ := ledger.Get("ETHUSDT")
	assert.Equal(t, before, after)
	assert.Len(t, watcher.calls, 1)
	assert.Len(t, rec.orders, 1)
}

func TestExecuteFirstBuyRejectedCreatesNoState(t *testing.T) {
	ex := newFakeExchange()
	ex.placeErr = errBoom
	exec, ledger, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), buyIntent("BTCUSDT", "100"))
	assert.ErrorIs(t, err, ErrExchangeRejected)
	_, ok := ledger.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestExecuteSellRejectedKeepsPositionOpen(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, _, _ := newTestExecutor(ex)
	ctx := context.Background()

	require.NoError(t, exec.Execute(ctx, buyIntent("ETHUSDT", "1000")))
	ex.placeErr = errBoom

	err := exec.Execute(ctx, sellIntent("ETHUSDT"))
	assert.ErrorIs(t, err, ErrExchangeRejected)

	state, _ := ledger.Get("ETHUSDT")
	assert.True(t, state.IsOpen)
	assert.Equal(t, "4", state.Quantity.String())
}

func TestExecuteBelowLotSizePlacesNothing(t *testing.T) {
	ex := newFakeExchange()
	exec, ledger, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), buyIntent("BTCUSDT", "15"))
	assert.ErrorIs(t, err, ErrBelowLotSize)
	assert.Empty(t, ex.placedCalls())
	_, ok := ledger.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestExecuteEmptyOrderBook(t *testing.T) {
	ex := newFakeExchange()
	delete(ex.asks, "BTCUSDT")
	exec, _, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), buyIntent("BTCUSDT", "100"))
	assert.ErrorIs(t, err, ErrPriceUnavailable)
	assert.Empty(t, ex.placedCalls())

	ex.asks["BTCUSDT"] = dec("30000")
	ex.bookErr = errBoom
	err = exec.Execute(context.Background(), buyIntent("BTCUSDT", "100"))
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestExecuteUnsupportedAction(t *testing.T) {
	ex := newFakeExchange()
	exec, _, _, _ := newTestExecutor(ex)

	err := exec.Execute(context.Background(), &signal.TradeIntent{Action: "HOLD", Pair: "BTCUSDT"})
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	assert.Zero(t, ex.totalCalls())
}

func TestExecuteFilledReceiptSkipsFillPolling(t *testing.T) {
	ex := newFakeExchange()
	ex.placeStatus = OrderStatusFilled
	exec, ledger, watcher, rec := newTestExecutor(ex)
	ctx := context.Background()

	filledBefore := testutil.ToFloat64(metrics.Fills.WithLabelValues("filled"))
	require.NoError(t, exec.Execute(ctx, buyIntent("ETHUSDT", "1000")))
	require.NoError(t, exec.Execute(ctx, sellIntent("ETHUSDT")))

	assert.Empty(t, watcher.calls)
	assert.Zero(t, ex.statusCalls)
	assert.Len(t, rec.orders, 2)
	assert.Equal(t, filledBefore+2, testutil.ToFloat64(metrics.Fills.WithLabelValues("filled")))

	state, _ := ledger.Get("ETHUSDT")
	assert.False(t, state.IsOpen)
}

func TestExecuteWithoutWatcherOrRecorder(t *testing.T) {
	ex := newFakeExchange()
	exec := NewExecutor(ex, NewLedger(), nil, nil, nil)

	require.NoError(t, exec.Execute(context.Background(), buyIntent("ETHUSDT", "1000")))
	require.NoError(t, exec.Execute(context.Background(), sellIntent("ETHUSDT")))
	assert.Len(t, ex.placedCalls(), 2)
}
