package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// MarketLookup is the slice of the universe repository the exit manager
// needs: latest observed price, market metadata, and resolution state.
type MarketLookup interface {
	LatestPrice(ctx context.Context, tokenID string) (decimal.Decimal, bool, error)
	GetMarket(ctx context.Context, conditionID string) (types.MarketUniverse, bool, error)
	IsResolved(ctx context.Context, conditionID string) (bool, error)
}

// ExitManager evaluates open positions against the exit rules and closes
// the ones that fire. Rule precedence when several fire in the same cycle:
// profit target, then stop loss, then time exit, then resolution. Profit and
// stop exits respect the position's minimum hold window; time exits and
// resolution do not wait for it.
type ExitManager struct {
	orders    *OrderManager
	positions *PositionTracker
	universe  MarketLookup

	profitTarget  decimal.Decimal
	stopLoss      decimal.Decimal
	timeExitHours float64
	holdHours     float64
	interval      time.Duration

	logger *slog.Logger
}

// NewExitManager wires the manager from config.
func NewExitManager(cfg *config.Config, orders *OrderManager, positions *PositionTracker, universe MarketLookup, logger *slog.Logger) *ExitManager {
	interval := cfg.Exit.EvaluateEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExitManager{
		orders:        orders,
		positions:     positions,
		universe:      universe,
		profitTarget:  decimal.NewFromFloat(cfg.Exit.ProfitTarget),
		stopLoss:      decimal.NewFromFloat(cfg.Exit.StopLoss),
		timeExitHours: cfg.Exit.TimeExitHours,
		holdHours:     cfg.Exit.HoldHoursDefault,
		interval:      interval,
		logger:        logger.With("component", "exits"),
	}
}

// Run evaluates all open positions on a timer until the context ends.
func (m *ExitManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.EvaluateAll(ctx, time.Now().UTC())
		}
	}
}

// EvaluateAll runs one evaluation cycle over every open position.
func (m *ExitManager) EvaluateAll(ctx context.Context, now time.Time) {
	for _, p := range m.positions.Open() {
		sig, fire, err := m.Evaluate(ctx, p, now)
		if err != nil {
			m.logger.Warn("exit evaluation failed", "position_id", p.PositionID, "error", err)
			continue
		}
		if !fire {
			continue
		}
		if err := m.execute(ctx, sig); err != nil {
			m.logger.Error("exit execution failed",
				"position_id", p.PositionID, "exit_type", sig.ExitType, "error", err)
		}
	}
}

// Evaluate decides whether one position should be closed now, and how.
// Positions with no price snapshot yet are skipped: exiting blind would
// realize P&L against a price we never observed.
func (m *ExitManager) Evaluate(ctx context.Context, p types.Position, now time.Time) (types.ExitSignal, bool, error) {
	price, havePrice, err := m.universe.LatestPrice(ctx, p.TokenID)
	if err != nil {
		return types.ExitSignal{}, false, err
	}

	market, haveMarket, err := m.universe.GetMarket(ctx, p.ConditionID)
	if err != nil {
		return types.ExitSignal{}, false, err
	}

	hoursHeld := now.Sub(p.HoldStartAt).Hours()
	heldLongEnough := hoursHeld >= m.holdHoursFor(p)

	if havePrice && heldLongEnough {
		if price.GreaterThanOrEqual(m.profitTarget) {
			return types.ExitSignal{Position: p, ExitType: types.ExitProfitTarget, Price: price}, true, nil
		}
		if price.LessThanOrEqual(m.stopLoss) {
			return types.ExitSignal{Position: p, ExitType: types.ExitStopLoss, Price: price}, true, nil
		}
	}

	if havePrice && haveMarket && market.EndDate != nil {
		timeToEnd := market.EndDate.Sub(now).Hours()
		if timeToEnd <= m.timeExitHours {
			return types.ExitSignal{Position: p, ExitType: types.ExitTime, Price: price}, true, nil
		}
	}

	// Resolution closes the position regardless of hold window: the market
	// is over and the token is worth exactly 0 or 1.
	if haveMarket {
		resolved, err := m.universe.IsResolved(ctx, p.ConditionID)
		if err != nil {
			return types.ExitSignal{}, false, err
		}
		if resolved {
			exitPrice := resolutionPrice(price, havePrice)
			return types.ExitSignal{Position: p, ExitType: types.ExitResolution, Price: exitPrice}, true, nil
		}
	}

	return types.ExitSignal{}, false, nil
}

// execute submits the exit SELL and records the close. A failed sell leaves
// the position open for the next cycle; resolution exits are recorded even
// when no order can be placed, since a resolved market accepts no orders.
func (m *ExitManager) execute(ctx context.Context, sig types.ExitSignal) error {
	p := sig.Position

	exitOrderID := ""
	if sig.ExitType != types.ExitResolution {
		order, err := m.orders.Submit(ctx, types.OrderRequest{
			TokenID:     p.TokenID,
			ConditionID: p.ConditionID,
			Side:        types.SELL,
			Price:       sig.Price,
			Size:        p.Size,
		})
		if err != nil {
			return err
		}
		exitOrderID = order.OrderID
	}

	m.logger.Info("exit fired",
		"position_id", p.PositionID, "exit_type", sig.ExitType,
		"price", sig.Price, "size", p.Size, "order_id", exitOrderID)

	return m.positions.ClosePosition(ctx, p.PositionID, sig.Price, sig.ExitType, exitOrderID)
}

// holdHoursFor returns the minimum hold window for a position. Positions
// adopted from the venue get the configured default so a restart does not
// immediately dump inherited inventory; positions opened here are eligible
// for profit and stop exits right away.
func (m *ExitManager) holdHoursFor(p types.Position) float64 {
	if p.Imported {
		return m.holdHours
	}
	return 0
}

// resolutionPrice values a resolved token. With a recent snapshot, the token
// has converged to ~0 or ~1 and we round to the nearer bound; without one,
// assume the worst so realized P&L is never overstated.
func resolutionPrice(lastPrice decimal.Decimal, havePrice bool) decimal.Decimal {
	if !havePrice {
		return decimal.Zero
	}
	half := decimal.NewFromFloat(0.5)
	if lastPrice.GreaterThanOrEqual(half) {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}
