package trader

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"mailtrader/pkg/metrics"
)

// PairState 单个交易对的跟踪状态
type PairState struct {
	Pair         string          `json:"pair"`
	IsOpen       bool            `json:"is_open"`
	Quantity     decimal.Decimal `json:"quantity"`
	LastBuyPrice decimal.Decimal `json:"last_buy_price"`
	LotStep      decimal.Decimal `json:"lot_step"`
	LastOrderID  int64           `json:"last_order_id"`
}

// Ledger 内存持仓账本。所有持仓不变量都在这里维护：
// Quantity 始终是 LotStep 的非负整数倍，IsOpen 当且仅当 Quantity > 0。
// 写入只来自执行器（由分发器串行化）；锁用于状态接口的并发读取。
type Ledger struct {
	mu     sync.RWMutex
	states map[string]*PairState
}

func NewLedger() *Ledger {
	return &Ledger{states: make(map[string]*PairState)}
}

// Get 返回状态副本
func (l *Ledger) Get(pair string) (PairState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.states[pair]
	if !ok {
		return PairState{}, false
	}
	return *s, true
}

// OpenOrAccumulate 首次买入创建状态，之后累加数量（按步长精度取整）。
// 最近买价、订单号、步长总是覆盖。
func (l *Ledger) OpenOrAccumulate(pair string, delta, buyPrice decimal.Decimal, orderID int64, lotStep decimal.Decimal) PairState {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.states[pair]
	if !ok {
		s = &PairState{Pair: pair, Quantity: delta}
		l.states[pair] = s
	} else {
		s.Quantity = s.Quantity.Add(delta).Round(LotPrecision(lotStep))
	}
	s.LastBuyPrice = buyPrice
	s.LastOrderID = orderID
	s.LotStep = lotStep
	s.IsOpen = s.Quantity.IsPositive()

	metrics.PositionQuantity.WithLabelValues(pair).Set(s.Quantity.InexactFloat64())
	return *s
}

// Close 清仓：数量归零，保留步长，下次买入不必重新查询交易对信息
func (l *Ledger) Close(pair string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.states[pair]
	if !ok {
		return
	}
	s.Quantity = decimal.Zero
	s.IsOpen = false
	metrics.PositionQuantity.WithLabelValues(pair).Set(0)
}

// SetLastOrderID 记录卖单订单号
func (l *Ledger) SetLastOrderID(pair string, orderID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.states[pair]; ok {
		s.LastOrderID = orderID
	}
}

// Snapshot 全部交易对状态，按交易对排序
func (l *Ledger) Snapshot() []PairState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]PairState, 0, len(l.states))
	for _, s := range l.states {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Pair < result[j].Pair })
	return result
}
