package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// Fill 单笔成交回报。归属订单后不可变更。
type Fill struct {
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Order 引擎已挂出或准备挂出的报价单。
type Order struct {
	ID        string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Status    Status
	Fills     []Fill
	CreatedAt time.Time
	ClosedAt  time.Time // 进入终态的时间，活跃单为零值
}

// FilledSize 累计成交数量。
func (o *Order) FilledSize() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		total = total.Add(f.Size)
	}
	return total
}

// FillRatio 成交比例 filled/size，size 为零时返回 0。
func (o *Order) FillRatio() decimal.Decimal {
	if o.Size.IsZero() {
		return decimal.Zero
	}
	return o.FilledSize().DivRound(o.Size, 8)
}

// LastFillTime 最后一笔成交时间；无成交返回零值。
func (o *Order) LastFillTime() time.Time {
	if len(o.Fills) == 0 {
		return time.Time{}
	}
	return o.Fills[len(o.Fills)-1].Timestamp
}

// clone 返回深拷贝，读接口统一返回副本避免外部篡改内部状态。
func (o *Order) clone() Order {
	cp := *o
	cp.Fills = make([]Fill, len(o.Fills))
	copy(cp.Fills, o.Fills)
	return cp
}
