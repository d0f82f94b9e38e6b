package trader

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus 交易所返回的订单状态（FILLED/NEW/PARTIALLY_FILLED/...）
type OrderStatus string

const OrderStatusFilled OrderStatus = "FILLED"

var (
	ErrUnknownPair       = errors.New("unknown pair")
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrExchangeRejected  = errors.New("exchange rejected order")
	ErrBelowLotSize      = errors.New("quantity below lot size")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrFillQueryFailed   = errors.New("fill query failed")
	ErrFillTimeout       = errors.New("fill timeout")
)

// Instrument 交易对元数据
type Instrument struct {
	Symbol   string
	StepSize decimal.Decimal // LOT_SIZE 过滤器的最小数量增量
}

// OrderBook 盘口
type OrderBook struct {
	BestAsk decimal.Decimal
	BestBid decimal.Decimal
}

// PlacedOrder 下单回执
type PlacedOrder struct {
	OrderID int64
	Status  OrderStatus
}

// Exchange 执行器用到的交易所能力
type Exchange interface {
	// Instruments 全部可交易的交易对
	Instruments(ctx context.Context) ([]Instrument, error)

	// OrderBook 当前盘口
	OrderBook(ctx context.Context, pair string) (*OrderBook, error)

	// PlaceMarketOrder 市价单，quantity 已按步长格式化；失败返回 ErrExchangeRejected
	PlaceMarketOrder(ctx context.Context, pair string, side Side, quantity string) (*PlacedOrder, error)

	// OrderStatus 查询订单状态
	OrderStatus(ctx context.Context, pair string, orderID int64) (OrderStatus, error)
}
