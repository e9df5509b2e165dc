package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats 某时间段内终态订单的统计。
type Stats struct {
	Total       int
	Filled      int
	Cancelled   int
	FillRate    float64         // filled / total
	AvgFillTime time.Duration   // 有成交的已成交订单：最后成交时间 - 创建时间 的均值
	Volume      decimal.Decimal // Σ fill.size × fill.price
	Fees        decimal.Decimal // Σ fill.fee
}

// StatsFor 统计 period 内进入终态的订单；period<=0 统计全部历史。
// 纯读操作，可在任意时刻（包括 tick 中途）被观测端轮询。
func (m *Manager) StatsFor(period time.Duration) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Time{}
	if period > 0 {
		cutoff = m.now().Add(-period)
	}

	st := Stats{Volume: decimal.Zero, Fees: decimal.Zero}
	var fillTimeSum time.Duration
	fillTimeCount := 0

	for _, o := range m.history {
		if !cutoff.IsZero() && o.ClosedAt.Before(cutoff) {
			continue
		}
		st.Total++
		switch o.Status {
		case StatusFilled:
			st.Filled++
		case StatusCancelled:
			st.Cancelled++
		}
		for _, f := range o.Fills {
			st.Volume = st.Volume.Add(f.Size.Mul(f.Price))
			st.Fees = st.Fees.Add(f.Fee)
		}
		if o.Status == StatusFilled && len(o.Fills) > 0 {
			fillTimeSum += o.LastFillTime().Sub(o.CreatedAt)
			fillTimeCount++
		}
	}

	if st.Total > 0 {
		st.FillRate = float64(st.Filled) / float64(st.Total)
	}
	if fillTimeCount > 0 {
		st.AvgFillTime = fillTimeSum / time.Duration(fillTimeCount)
	}
	return st
}

// PnLReport 已成交订单的已实现盈亏。手续费单独列出，不做静默净额，
// 调用方可自行核对毛/净收益。
type PnLReport struct {
	Gross decimal.Decimal // 未扣费盈亏
	Fees  decimal.Decimal // 手续费合计
	Net   decimal.Decimal // Gross - Fees
}

// PnL 遍历所有 FILLED 订单按当前价计算已实现盈亏。
// 买单：每笔成交按 (现价 - 成交价) × 数量 计；
// 卖单：每笔成交按 (成交价 - 现价) × 数量 计。
// 买单以现价而非平仓价标记，混入了未实现部分；这里按约定照搬，
// 不对仍在簿订单计算浮动盈亏。
func (m *Manager) PnL(currentPrice decimal.Decimal) PnLReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := PnLReport{Gross: decimal.Zero, Fees: decimal.Zero}
	for _, o := range m.history {
		if o.Status != StatusFilled {
			continue
		}
		for _, f := range o.Fills {
			if o.Side == SideBuy {
				report.Gross = report.Gross.Add(currentPrice.Sub(f.Price).Mul(f.Size))
			} else {
				report.Gross = report.Gross.Add(f.Price.Sub(currentPrice).Mul(f.Size))
			}
			report.Fees = report.Fees.Add(f.Fee)
		}
	}
	report.Net = report.Gross.Sub(report.Fees)
	return report
}
