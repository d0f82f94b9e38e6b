// Package metrics 暴露告警处理、下单、成交确认的 Prometheus 指标：
//   - mailtrader_alerts_total{result}        邮件处理结果（processed|ignored_sender|stale|...）
//   - mailtrader_orders_total{side,result}   下单结果（placed|rejected|skipped）
//   - mailtrader_fills_total{result}         成交确认结果（filled|query_failed|timeout）
//   - mailtrader_position_quantity{pair}     当前跟踪的持仓数量
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrader_alerts_total",
			Help: "Alert mails handled, split by outcome",
		},
		[]string{"result"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrader_orders_total",
			Help: "Market orders by side and outcome",
		},
		[]string{"side", "result"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrader_fills_total",
			Help: "Fill confirmations by outcome",
		},
		[]string{"result"},
	)

	PositionQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailtrader_position_quantity",
			Help: "Tracked base-asset quantity per pair",
		},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(Alerts, Orders, Fills, PositionQuantity)
}
