package trader

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

type placedCall struct {
	pair     string
	side     Side
	quantity string
}

// fakeExchange 可编程的交易所替身，记录所有调用
type fakeExchange struct {
	mu sync.Mutex

	instruments    []Instrument
	instrumentsErr error
	asks           map[string]decimal.Decimal
	bookErr        error
	placeErr       error
	placeStatus    OrderStatus // 下单回执状态，默认 NEW
	nextOrderID    int64
	statuses       []OrderStatus // 依次返回，用完后返回最后一个
	statusErr      error

	instrumentCalls int
	bookCalls       int
	statusCalls     int
	placed          []placedCall
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		instruments: []Instrument{
			{Symbol: "BTCUSDT", StepSize: dec("0.00100000")},
			{Symbol: "ETHUSDT", StepSize: dec("0.01")},
			{Symbol: "NOLOTUSDT"},
		},
		asks: map[string]decimal.Decimal{
			"BTCUSDT": dec("30000"),
			"ETHUSDT": dec("250"),
		},
		nextOrderID: 100,
		statuses:    []OrderStatus{OrderStatusFilled},
	}
}

func (f *fakeExchange) Instruments(ctx context.Context) ([]Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instrumentCalls++
	return f.instruments, f.instrumentsErr
}

func (f *fakeExchange) OrderBook(ctx context.Context, pair string) (*OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	return &OrderBook{BestAsk: f.asks[pair]}, nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, pair string, side Side, quantity string) (*PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, placedCall{pair: pair, side: side, quantity: quantity})
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.nextOrderID++
	status := f.placeStatus
	if status == "" {
		status = "NEW"
	}
	return &PlacedOrder{OrderID: f.nextOrderID, Status: status}, nil
}

func (f *fakeExchange) OrderStatus(ctx context.Context, pair string, orderID int64) (OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	if len(f.statuses) == 0 {
		return "NEW", nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}

func (f *fakeExchange) placedCalls() []placedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedCall(nil), f.placed...)
}

func (f *fakeExchange) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instrumentCalls + f.bookCalls + f.statusCalls + len(f.placed)
}

var errBoom = errors.New("boom")

type watchCall struct {
	pair    string
	orderID int64
}

type fakeWatcher struct {
	mu    sync.Mutex
	calls []watchCall
}

func (w *fakeWatcher) Watch(pair string, orderID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, watchCall{pair, orderID})
}
