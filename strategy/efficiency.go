package strategy

import (
	"math"
	"sort"
)

// FillOutcome 一次成交的事后归因：当时报的价差与该笔实现的利润。
type FillOutcome struct {
	Spread float64 // 成交时使用的价差
	Profit float64 // 该笔的已实现利润（USD），可为负
}

// Efficiency 价差效率分析结果。
type Efficiency struct {
	RecommendedSpread float64 // 平均利润最高的价差档
	ProfitableRatio   float64 // 盈利笔数占比
	AverageProfit     float64
	Buckets           map[float64]float64 // 价差档 → 平均利润
}

// AnalyzeEfficiency 把成交按价差归到最近的 10bps 档，统计各档平均利润，
// 取利润最高的档作为推荐价差。这是基础价差的反馈调优入口：
// 用观测到的结果替代先验设定。
func AnalyzeEfficiency(fills []FillOutcome) Efficiency {
	if len(fills) == 0 {
		return Efficiency{Buckets: map[float64]float64{}}
	}

	type agg struct {
		sum   float64
		count int
	}
	buckets := make(map[float64]*agg)
	profitable := 0
	totalProfit := 0.0

	for _, f := range fills {
		// 10bps = 0.001
		bucket := math.Round(f.Spread*1000) / 1000
		a, ok := buckets[bucket]
		if !ok {
			a = &agg{}
			buckets[bucket] = a
		}
		a.sum += f.Profit
		a.count++

		totalProfit += f.Profit
		if f.Profit > 0 {
			profitable++
		}
	}

	eff := Efficiency{
		ProfitableRatio: float64(profitable) / float64(len(fills)),
		AverageProfit:   totalProfit / float64(len(fills)),
		Buckets:         make(map[float64]float64, len(buckets)),
	}

	keys := make([]float64, 0, len(buckets))
	for bucket := range buckets {
		keys = append(keys, bucket)
	}
	sort.Float64s(keys)

	// 升序扫描，平均利润相同时取更窄的价差档
	bestAvg := math.Inf(-1)
	for _, bucket := range keys {
		a := buckets[bucket]
		avg := a.sum / float64(a.count)
		eff.Buckets[bucket] = avg
		if avg > bestAvg {
			bestAvg = avg
			eff.RecommendedSpread = bucket
		}
	}
	return eff
}
