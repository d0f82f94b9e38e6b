package signal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 告警文本中的标记，例如：
//
//	#BCE_ACTION_START#BUY#BCE_ACTION_END#
//	#BCE_PAIR_START#BTCUSDT#BCE_PAIR_END#
//	#BCE_TOT_START#15#BCE_TOT_END#
const (
	ActionStartMarker = "#BCE_ACTION_START#"
	ActionEndMarker   = "#BCE_ACTION_END#"
	PairStartMarker   = "#BCE_PAIR_START#"
	PairEndMarker     = "#BCE_PAIR_END#"
	TotalStartMarker  = "#BCE_TOT_START#"
	TotalEndMarker    = "#BCE_TOT_END#"
)

var ErrMalformedAlert = errors.New("malformed alert")

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse 从告警文本中提取交易意图。
// 每组标记都取最后一次出现的位置，前面被引用/转发的旧内容会被忽略。
// 非 BUY/SELL 的动作在这里照常返回，由执行器拒绝。
func (p *Parser) Parse(text string) (*TradeIntent, error) {
	action, err := between(text, ActionStartMarker, ActionEndMarker)
	if err != nil {
		return nil, err
	}
	pair, err := between(text, PairStartMarker, PairEndMarker)
	if err != nil {
		return nil, err
	}

	intent := &TradeIntent{
		Action: Action(strings.ToUpper(action)),
		Pair:   strings.ToUpper(pair),
	}
	if intent.Action == "" || intent.Pair == "" {
		return nil, fmt.Errorf("%w: empty action or pair", ErrMalformedAlert)
	}

	if intent.Action == ActionBuy {
		raw, err := between(text, TotalStartMarker, TotalEndMarker)
		if err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: total %q is not a number", ErrMalformedAlert, raw)
		}
		if !total.IsPositive() {
			return nil, fmt.Errorf("%w: total %s must be positive", ErrMalformedAlert, total)
		}
		intent.NotionalTotal = total
	}

	return intent, nil
}

// between 返回最后一个 start 与最后一个 end 之间的内容
func between(text, start, end string) (string, error) {
	i := strings.LastIndex(text, start)
	if i < 0 {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedAlert, start)
	}
	j := strings.LastIndex(text, end)
	if j < 0 {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedAlert, end)
	}
	i += len(start)
	if j < i {
		return "", fmt.Errorf("%w: %s appears before %s", ErrMalformedAlert, end, start)
	}
	return text[i:j], nil
}
