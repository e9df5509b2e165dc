// Package venue 定义引擎与外部协作方（余额源、价格源、执行端、成交流）
// 的契约。核心组件只依赖这些接口，不依赖任何具体交易场所的线协议。
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// FillEvent 执行端异步推送的成交事件。
type FillEvent struct {
	OrderID   string          // 执行端订单号
	Price     decimal.Decimal // quote/base
	Size      decimal.Decimal // base 数量
	Fee       decimal.Decimal
	Timestamp time.Time
}

// BalanceSource 链上余额读取，只读，允许瞬时失败。
type BalanceSource interface {
	Balances(ctx context.Context, pair string) (base, quote decimal.Decimal, err error)
}

// PriceSource 价格读取（quote per base），可能过期；调用方须支持回退价。
type PriceSource interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
}

// Execution 下单/撤单执行端。SubmitOrder 返回执行端订单号。
type Execution interface {
	SubmitOrder(ctx context.Context, side string, price, size decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}

// FillSource 成交流抽象。生产环境接真实流，测试注入确定性假源，
// 默认路径不允许任何随机性。
type FillSource interface {
	Fills() <-chan FillEvent
}
