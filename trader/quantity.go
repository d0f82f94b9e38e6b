package trader

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LotPrecision 步长的小数位数，如 0.001 -> 3，1 -> 0。
// 交易所返回的 "0.00100000" 末尾零不计入。
func LotPrecision(step decimal.Decimal) int32 {
	s := step.String()
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return int32(len(s) - i - 1)
}

// FloorToLot 用 notional 按 price 能买到的数量，向下取整到步长的整数倍。
// 最多少花不到一个步长的金额，不足一个步长时返回 0。
func FloorToLot(notional, price, step decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !step.IsPositive() || !notional.IsPositive() {
		return decimal.Zero
	}
	lots := notional.Div(price).Div(step).Floor()
	return lots.Mul(step).Round(LotPrecision(step))
}

// FormatQuantity 按步长精度格式化数量，供下单使用
func FormatQuantity(qty, step decimal.Decimal) string {
	return qty.StringFixed(LotPrecision(step))
}
