package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mailtrader/pkg/logger"
)

// BinanceTrader 币安现货交易器
type BinanceTrader struct {
	client     *binance.Client
	recvWindow int64
	log        *zap.Logger
}

// NewBinanceTrader 创建币安现货交易器。testnet 必须在创建客户端前设置。
func NewBinanceTrader(apiKey, secretKey string, testnet bool, recvWindowMs int64, log *zap.Logger) *BinanceTrader {
	binance.UseTestnet = testnet
	return &BinanceTrader{
		client:     binance.NewClient(apiKey, secretKey),
		recvWindow: recvWindowMs,
		log:        logger.OrNop(log),
	}
}

// SetBaseURL 覆盖 REST 地址（测试用）
func (t *BinanceTrader) SetBaseURL(url string) {
	t.client.BaseURL = strings.TrimRight(url, "/")
}

// SyncServerTime 用服务器时间校准本地时钟偏移，避免签名请求的时间戳被拒
func (t *BinanceTrader) SyncServerTime(ctx context.Context) error {
	offset, err := t.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("同步服务器时间失败: %w", err)
	}
	t.log.Info("🕒 已同步币安服务器时间", zap.Int64("offset_ms", offset))
	return nil
}

// Instruments 全部交易对及其 LOT_SIZE 步长（按过滤器名称查找，不依赖位置）
func (t *BinanceTrader) Instruments(ctx context.Context) ([]Instrument, error) {
	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取交易规则失败: %w", err)
	}

	result := make([]Instrument, 0, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		inst := Instrument{Symbol: s.Symbol}
		if f := s.LotSizeFilter(); f != nil {
			if step, err := decimal.NewFromString(f.StepSize); err == nil {
				inst.StepSize = step
			}
		}
		result = append(result, inst)
	}
	return result, nil
}

// OrderBook 最优买卖价
func (t *BinanceTrader) OrderBook(ctx context.Context, pair string) (*OrderBook, error) {
	depth, err := t.client.NewDepthService().Symbol(pair).Limit(5).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取盘口失败: %w", err)
	}

	book := &OrderBook{}
	if len(depth.Asks) > 0 {
		if book.BestAsk, err = decimal.NewFromString(depth.Asks[0].Price); err != nil {
			return nil, fmt.Errorf("解析卖一价失败: %w", err)
		}
	}
	if len(depth.Bids) > 0 {
		if book.BestBid, err = decimal.NewFromString(depth.Bids[0].Price); err != nil {
			return nil, fmt.Errorf("解析买一价失败: %w", err)
		}
	}
	return book, nil
}

// PlaceMarketOrder 提交市价单
func (t *BinanceTrader) PlaceMarketOrder(ctx context.Context, pair string, side Side, quantity string) (*PlacedOrder, error) {
	resp, err := t.client.NewCreateOrderService().
		Symbol(pair).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(quantity).
		NewOrderRespType(binance.NewOrderRespTypeRESULT).
		Do(ctx, binance.WithRecvWindow(t.recvWindow))
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return &PlacedOrder{
		OrderID: resp.OrderID,
		Status:  OrderStatus(resp.Status),
	}, nil
}

// OrderStatus 查询订单状态
func (t *BinanceTrader) OrderStatus(ctx context.Context, pair string, orderID int64) (OrderStatus, error) {
	order, err := t.client.NewGetOrderService().
		Symbol(pair).
		OrderID(orderID).
		Do(ctx, binance.WithRecvWindow(t.recvWindow))
	if err != nil {
		return "", fmt.Errorf("查询订单失败: %w", err)
	}
	return OrderStatus(order.Status), nil
}

func wrapAPIError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: code=%d msg=%s", ErrExchangeRejected, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrExchangeRejected, err)
}
