// FILE: scoring.go
// Confluence scoring (spec.md §4.4 table): accumulates longScore and
// shortScore from a fixed rubric and picks a direction once one side
// crosses the configured threshold.
package razor

import (
	"fmt"

	"github.com/razorcore/execution-core/internal/domain"
)

const (
	volatilitySweetSpotLow  = 0.08
	volatilitySweetSpotHigh = 0.60
	rsiOversoldCapBonus     = 48.0
	rsiOversoldBaseBonus    = 35.0
	momentumThresholdPct    = 0.05
	atrSweetSpotLow         = 0.03
	atrSweetSpotHigh        = 0.8
	emaCrossGapPct          = 0.02
	emaCrossBonus           = 25.0
	rangeCompressionRatio   = 0.6
)

// Score implements spec.md §4.4's weighted confluence rubric. dailyTrades
// is compared against cfg.MaxDailyTrades as a hard reject, same as the
// volatility band check.
func Score(snap domain.IndicatorSnapshot, cfg domain.StrategyConfig, dailyTrades int, rangeCompressed bool) domain.Signal {
	if cfg.MaxDailyTrades > 0 && dailyTrades >= cfg.MaxDailyTrades {
		return domain.Signal{Direction: domain.DirectionNone, Reasons: []string{"daily trade limit reached"}}
	}
	if snap.VolatilityPct == nil {
		return domain.Signal{Direction: domain.DirectionNone, Reasons: []string{"insufficient history for volatility"}}
	}
	vol := *snap.VolatilityPct
	if vol < cfg.MinVolatility || vol > cfg.MaxVolatility {
		return domain.Signal{Direction: domain.DirectionNone, Reasons: []string{fmt.Sprintf("volatility %.3f%% outside [%.3f,%.3f]", vol, cfg.MinVolatility, cfg.MaxVolatility)}}
	}

	var longScore, shortScore float64
	var reasons []string
	add := func(r string) { reasons = append(reasons, r) }

	if vol >= volatilitySweetSpotLow && vol <= volatilitySweetSpotHigh {
		longScore += 8
		shortScore += 8
		add("volatility in sweet spot")
	}

	if snap.RSI14 != nil {
		rsi := *snap.RSI14
		if rsi < cfg.RSIOversold {
			bonus := min(rsiOversoldBaseBonus+(cfg.RSIOversold-rsi), rsiOversoldCapBonus)
			longScore += bonus
			add(fmt.Sprintf("rsi oversold (%.1f)", rsi))
		}
		if rsi > cfg.RSIOverbought {
			bonus := min(rsiOversoldBaseBonus+(rsi-cfg.RSIOverbought), rsiOversoldCapBonus)
			shortScore += bonus
			add(fmt.Sprintf("rsi overbought (%.1f)", rsi))
		}
	}

	if snap.EMAFast1m != nil && snap.EMASlow1m != nil {
		trendUp := *snap.EMAFast1m > *snap.EMASlow1m
		if trendUp {
			longScore += 20
			shortScore += 5
		} else {
			longScore += 5
			shortScore += 20
		}
	}

	if snap.Momentum5Bar != nil {
		momentumPct := *snap.Momentum5Bar
		if momentumPct > momentumThresholdPct {
			longScore += 15
			add("positive momentum")
		}
		if momentumPct < -momentumThresholdPct {
			shortScore += 15
			add("negative momentum")
		}
	}

	if snap.ATR14 != nil && snap.EMASlow1m != nil && *snap.EMASlow1m > 0 {
		atrPct := *snap.ATR14 / *snap.EMASlow1m * 100
		if atrPct >= atrSweetSpotLow && atrPct <= atrSweetSpotHigh {
			longScore += 6
			shortScore += 6
		}
	}

	switch {
	case snap.TrendScore == 3 || snap.TrendScore == -3:
		if snap.TrendScore > 0 {
			longScore += 10
		} else {
			shortScore += 10
		}
		add("strong multi-timeframe trend")
	case snap.TrendScore == 2 || snap.TrendScore == -2:
		if snap.TrendScore > 0 {
			longScore += 6
		} else {
			shortScore += 6
		}
	}

	switch snap.PullbackReady {
	case domain.PullbackFalse:
		longScore = maxFloat(0, longScore-5)
		shortScore = maxFloat(0, shortScore-5)
	case domain.PullbackTrue:
		longScore += 5
		shortScore += 5
		add("pullback ready")
	}

	if rangeCompressed {
		longScore += 4
		shortScore += 4
		add("range compression")
	}

	if longScore < 20 && shortScore < 20 && snap.EMAFast1m != nil && snap.EMASlow1m != nil && *snap.EMASlow1m != 0 {
		gapPct := (*snap.EMAFast1m - *snap.EMASlow1m) / *snap.EMASlow1m * 100
		if gapPct > emaCrossGapPct {
			longScore += emaCrossBonus
			add("ema crossover (long)")
		} else if gapPct < -emaCrossGapPct {
			shortScore += emaCrossBonus
			add("ema crossover (short)")
		}
	}

	return decide(longScore, shortScore, cfg.MinConfluenceScore, reasons)
}

func decide(longScore, shortScore, threshold float64, reasons []string) domain.Signal {
	direction := domain.DirectionNone
	strength := 0.0
	switch {
	case longScore > shortScore && longScore >= threshold:
		direction = domain.DirectionLong
		strength = longScore
	case shortScore > longScore && shortScore >= threshold:
		direction = domain.DirectionShort
		strength = shortScore
	}
	confidence := strength
	if confidence > 100 {
		confidence = 100
	}
	return domain.Signal{Direction: direction, Strength: strength, Confidence: confidence, Reasons: reasons}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
