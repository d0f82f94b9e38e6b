package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action 告警中的交易动作
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// TradeIntent 从告警邮件中解析出的交易意图
type TradeIntent struct {
	AlertID string `json:"alert_id"`
	Action  Action `json:"action"`
	Pair    string `json:"pair"`
	// NotionalTotal 仅 BUY 时有值：本次要花费的计价资产金额
	NotionalTotal decimal.Decimal `json:"notional_total"`
}

// Mail 邮件源投递的一封新邮件
type Mail struct {
	MessageID  string
	From       string // 发件人地址 mailbox@host
	Text       string
	HTML       string
	ReceivedAt time.Time
}

// Body 优先纯文本，其次HTML
func (m *Mail) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.HTML
}
