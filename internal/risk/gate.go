// Package risk evaluates whether a proposed autopilot trade may proceed. The
// gate composes independent checks over user settings, the trade ledger, the
// blind-spot registry and anti-lag state; the first blocking check wins and
// its reason is returned verbatim to the caller.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autopilot/internal/config"
	"autopilot/internal/models"
	"autopilot/internal/repository"
)

// Check names, in evaluation order.
const (
	CheckSettings       = "settings"
	CheckDailyLoss      = "daily_loss"
	CheckPositionLimits = "position_limits"
	CheckBlindSpot      = "blind_spot"
	CheckAntiLag        = "anti_lag"
	CheckTimeWindow     = "time_window"
)

// ProposedTrade is the gate input: the trade a signal wants to open.
type ProposedTrade struct {
	UserID   string
	Strategy string
	Symbol   string
	Side     models.OrderSide
	Size     decimal.Decimal
}

// Verdict is the allow/block outcome plus the account snapshot it was based
// on. Check and Reason are set only when Blocked.
type Verdict struct {
	Blocked bool   `json:"blocked"`
	Check   string `json:"check,omitempty"`
	Reason  string `json:"reason,omitempty"`

	DailyLossUSD      decimal.Decimal `json:"daily_loss_usd"`
	OpenPositions     int64           `json:"open_positions"`
	AccountBalanceUSD decimal.Decimal `json:"account_balance_usd"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

type Gate struct {
	repo   repository.Repository
	cache  VerdictCache
	cfg    config.RiskConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewGate(repo repository.Repository, cache VerdictCache, cfg config.RiskConfig, logger *zap.Logger) *Gate {
	if cfg.AntiLagEventWindow <= 0 {
		cfg.AntiLagEventWindow = 2 * time.Minute
	}
	return &Gate{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs every check in fixed order and short-circuits on the first
// block. A fresh cached verdict for the user is returned as-is.
func (g *Gate) Evaluate(ctx context.Context, trade ProposedTrade) (Verdict, error) {
	if g == nil || g.repo == nil {
		return Verdict{}, fmt.Errorf("risk gate not initialized")
	}
	if g.cache != nil {
		if cached, err := g.cache.Get(ctx, trade.UserID); err == nil && cached != nil {
			return *cached, nil
		}
	}
	return g.evaluate(ctx, trade)
}

// EvaluateFresh runs the checks against live data, ignoring any cached
// verdict. Used for the re-check on a stale approval, where a cached allow
// could mask a limit breached since it was stored. The result still refreshes
// the cache.
func (g *Gate) EvaluateFresh(ctx context.Context, trade ProposedTrade) (Verdict, error) {
	if g == nil || g.repo == nil {
		return Verdict{}, fmt.Errorf("risk gate not initialized")
	}
	return g.evaluate(ctx, trade)
}

func (g *Gate) evaluate(ctx context.Context, trade ProposedTrade) (Verdict, error) {
	now := g.now()

	settings, err := g.repo.GetUserSettings(ctx, trade.UserID)
	if err != nil {
		return Verdict{}, err
	}
	if settings == nil {
		return g.finish(ctx, trade.UserID, Verdict{
			Blocked:     true,
			Check:       CheckSettings,
			Reason:      "autopilot settings not configured",
			EvaluatedAt: now,
		}), nil
	}

	v := Verdict{
		AccountBalanceUSD: settings.AccountBalanceUSD,
		EvaluatedAt:       now,
	}

	v.DailyLossUSD, err = g.repo.SumRealizedLossSince(ctx, trade.UserID, dailyWindowStart(now, g.cfg.DailyLossResetHour))
	if err != nil {
		return Verdict{}, err
	}
	if settings.MaxDailyLossUSD.IsPositive() && v.DailyLossUSD.GreaterThanOrEqual(settings.MaxDailyLossUSD) {
		return g.finish(ctx, trade.UserID, blocked(v, CheckDailyLoss,
			fmt.Sprintf("daily loss %s has reached the limit of %s", v.DailyLossUSD.StringFixed(2), settings.MaxDailyLossUSD.StringFixed(2)))), nil
	}

	v.OpenPositions, err = g.repo.CountOpenPositions(ctx, trade.UserID)
	if err != nil {
		return Verdict{}, err
	}
	if settings.MaxPositionSize.IsPositive() && trade.Size.GreaterThan(settings.MaxPositionSize) {
		return g.finish(ctx, trade.UserID, blocked(v, CheckPositionLimits,
			fmt.Sprintf("size %s exceeds the maximum position size of %s", trade.Size.String(), settings.MaxPositionSize.String()))), nil
	}
	if settings.MaxOpenPositions > 0 && v.OpenPositions >= int64(settings.MaxOpenPositions) {
		return g.finish(ctx, trade.UserID, blocked(v, CheckPositionLimits,
			fmt.Sprintf("%d open positions at the limit of %d", v.OpenPositions, settings.MaxOpenPositions))), nil
	}

	triggered, err := g.repo.ListTriggeredBlindSpots(ctx, trade.UserID, now)
	if err != nil {
		return Verdict{}, err
	}
	if len(triggered) > 0 {
		return g.finish(ctx, trade.UserID, blocked(v, CheckBlindSpot,
			fmt.Sprintf("blind spot triggered: %s", triggered[0].Name))), nil
	}

	if pair, ok := antiLagPair(settings, trade.Strategy); ok {
		ev, err := g.repo.GetActiveAntiLagEvent(ctx, pair.Primary, pair.Correlated, now.Add(-g.cfg.AntiLagEventWindow))
		if err != nil {
			return Verdict{}, err
		}
		if ev != nil && (!ev.Confirmed || ev.EventType == models.ContraAntiLag) {
			return g.finish(ctx, trade.UserID, blocked(v, CheckAntiLag,
				fmt.Sprintf("%s event active on %s/%s", ev.EventType, ev.PrimarySymbol, ev.CorrelatedSymbol))), nil
		}
	}

	if reason := windowBlockReason(settings, now); reason != "" {
		return g.finish(ctx, trade.UserID, blocked(v, CheckTimeWindow, reason)), nil
	}

	return g.finish(ctx, trade.UserID, v), nil
}

// Invalidate drops the user's cached verdict. Called whenever one of their
// proposals is rejected.
func (g *Gate) Invalidate(ctx context.Context, userID string) {
	if g == nil || g.cache == nil {
		return
	}
	if err := g.cache.Invalidate(ctx, userID); err != nil && g.logger != nil {
		g.logger.Warn("verdict cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (g *Gate) finish(ctx context.Context, userID string, v Verdict) Verdict {
	if g.cache != nil {
		if err := g.cache.Set(ctx, userID, v); err != nil && g.logger != nil {
			g.logger.Warn("verdict cache set failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if v.Blocked && g.logger != nil {
		g.logger.Info("trade blocked",
			zap.String("user_id", userID),
			zap.String("check", v.Check),
			zap.String("reason", v.Reason))
	}
	return v
}

func blocked(v Verdict, check, reason string) Verdict {
	v.Blocked = true
	v.Check = check
	v.Reason = reason
	return v
}

// dailyWindowStart is the most recent occurrence of resetHour UTC at or
// before now.
func dailyWindowStart(now time.Time, resetHour int) time.Time {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if start.After(now) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

func antiLagPair(settings *models.UserSettings, strategy string) (models.AntiLagPair, bool) {
	if settings == nil || len(settings.AntiLagPairs) == 0 {
		return models.AntiLagPair{}, false
	}
	var pairs map[string]models.AntiLagPair
	if err := json.Unmarshal(settings.AntiLagPairs, &pairs); err != nil {
		return models.AntiLagPair{}, false
	}
	pair, ok := pairs[strategy]
	if !ok || pair.Primary == "" || pair.Correlated == "" {
		return models.AntiLagPair{}, false
	}
	return pair, true
}

// windowBlockReason returns "" when trading is allowed right now under the
// user's mode and its configured window.
func windowBlockReason(settings *models.UserSettings, now time.Time) string {
	switch settings.AutopilotMode {
	case models.AutopilotSemi:
		if !inWindow(now, settings.Timezone, settings.SemiWindowStart, settings.SemiWindowEnd) {
			return fmt.Sprintf("outside semi autopilot window %s-%s", settings.SemiWindowStart, settings.SemiWindowEnd)
		}
	case models.AutopilotFull:
		if !inWindow(now, settings.Timezone, settings.FullWindowStart, settings.FullWindowEnd) {
			return fmt.Sprintf("outside full autopilot window %s-%s", settings.FullWindowStart, settings.FullWindowEnd)
		}
	default:
		return "autopilot mode is off"
	}
	return ""
}

// inWindow checks the wall clock in tz against an "HH:MM" bounded window.
// An empty start/end pair disables the window. End before start wraps
// midnight.
func inWindow(now time.Time, tz, start, end string) bool {
	if start == "" || end == "" {
		return true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	startMin, ok1 := parseClock(start)
	endMin, ok2 := parseClock(end)
	if !ok1 || !ok2 {
		return true
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if startMin <= endMin {
		return cur >= startMin && cur < endMin
	}
	return cur >= startMin || cur < endMin
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
