package orders

import (
	"context"
	"time"

	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/model"
	"perp-ledger/internal/pnl"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

const (
	recentActivityLimit = 10
	todayTxLimit        = 1000
)

// markCache memoizes mark prices for one read so every position on a symbol
// is valued at the same tick.
type markCache struct {
	s      *Service
	prices map[string]*marketdata.Price
}

func (s *Service) newMarkCache() *markCache {
	return &markCache{s: s, prices: map[string]*marketdata.Price{}}
}

func (c *markCache) get(ctx context.Context, symbol string) (marketdata.Price, bool) {
	if p, ok := c.prices[symbol]; ok {
		if p == nil {
			return marketdata.Price{}, false
		}
		return *p, true
	}
	p, err := c.s.markPrice(ctx, symbol)
	if err != nil {
		c.prices[symbol] = nil
		return marketdata.Price{}, false
	}
	c.prices[symbol] = &p
	return p, true
}

// View values p at mark. An unpriced view keeps zero PnL.
func View(p model.Position, mark *marketdata.Price) model.PositionView {
	v := model.PositionView{Position: p}
	if mark == nil {
		v.MarginRatio = pnl.MarginRatio(p.Margin, decimal.Zero, p.Size)
		return v
	}
	v.Priced = true
	v.MarkPrice = mark.Value
	v.UnrealizedPnL = pnl.UnrealizedPnL(p.Side, p.EntryPrice, mark.Value, p.Size)
	v.ROE = pnl.ROE(v.UnrealizedPnL, p.Margin)
	v.MarginRatio = pnl.MarginRatio(p.Margin, v.UnrealizedPnL, p.Size)
	return v
}

func (s *Service) views(ctx context.Context, positions []model.Position) []model.PositionView {
	cache := s.newMarkCache()
	out := make([]model.PositionView, 0, len(positions))
	for _, p := range positions {
		mark, ok := cache.get(ctx, p.Symbol)
		if !ok {
			out = append(out, View(p, nil))
			continue
		}
		out = append(out, View(p, &mark))
	}
	return out
}

// GetOpenPositions returns the user's open positions valued at the mark price.
func (s *Service) GetOpenPositions(ctx context.Context, userID string) ([]model.PositionView, error) {
	if userID == "" {
		return nil, types.Validation("user is required")
	}
	positions, err := s.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, positions), nil
}

func summarize(acct model.Account, views []model.PositionView) model.AccountSummary {
	sum := model.AccountSummary{
		UserID:        acct.UserID,
		FreeBalance:   acct.FreeBalance,
		LockedMargin:  acct.LockedMargin,
		Available:     acct.Available(),
		TotalDeposit:  acct.TotalDeposited,
		TotalWithdraw: acct.TotalWithdrawn,
	}
	unpriced := map[string]bool{}
	for _, v := range views {
		if !v.Priced {
			if !unpriced[v.Symbol] {
				unpriced[v.Symbol] = true
				sum.Unpriced = append(sum.Unpriced, v.Symbol)
			}
			continue
		}
		sum.UnrealizedPnL = sum.UnrealizedPnL.Add(v.UnrealizedPnL)
	}
	sum.Equity = acct.FreeBalance.Add(sum.UnrealizedPnL)
	return sum
}

// GetAccountSummary reports equity as free balance plus the unrealized PnL
// of every priced open position.
func (s *Service) GetAccountSummary(ctx context.Context, userID string) (model.AccountSummary, error) {
	acct, views, err := s.accountViews(ctx, userID)
	if err != nil {
		return model.AccountSummary{}, err
	}
	return summarize(acct, views), nil
}

// Fills returns the user's order records, newest first.
func (s *Service) Fills(ctx context.Context, userID string, f model.FillFilter) ([]model.Fill, error) {
	if userID == "" {
		return nil, types.Validation("user is required")
	}
	fills, err := s.store.ListFills(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	if fills == nil {
		fills = []model.Fill{}
	}
	return fills, nil
}

func (s *Service) accountViews(ctx context.Context, userID string) (model.Account, []model.PositionView, error) {
	if userID == "" {
		return model.Account{}, nil, types.Validation("user is required")
	}
	acct, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return model.Account{}, nil, err
	}
	positions, err := s.store.ListOpenPositions(ctx, userID)
	if err != nil {
		return model.Account{}, nil, err
	}
	return acct, s.views(ctx, positions), nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *Service) Portfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	acct, views, err := s.accountViews(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}
	closed, err := s.store.ListClosedPositions(ctx, userID)
	if err != nil {
		return model.Portfolio{}, err
	}
	today, err := s.store.ListTransactions(ctx, userID, model.TransactionFilter{
		Type:  types.TransactionTypeRealizedPnL,
		Since: startOfDay(s.now()),
		Limit: todayTxLimit,
	})
	if err != nil {
		return model.Portfolio{}, err
	}
	recent, err := s.store.ListTransactions(ctx, userID, model.TransactionFilter{Limit: recentActivityLimit})
	if err != nil {
		return model.Portfolio{}, err
	}

	summary := summarize(acct, views)
	stats := model.PortfolioStats{
		UnrealizedPnL: summary.UnrealizedPnL,
		ClosedCount:   len(closed),
		OpenPositions: len(views),
	}
	wins := 0
	for _, p := range closed {
		stats.RealizedPnL = stats.RealizedPnL.Add(p.RealizedPnL)
		stats.TotalFees = stats.TotalFees.Add(p.FeesPaid)
		if p.RealizedPnL.IsPositive() {
			wins++
		}
	}
	for _, v := range views {
		stats.RealizedPnL = stats.RealizedPnL.Add(v.RealizedPnL)
		stats.TotalFees = stats.TotalFees.Add(v.FeesPaid)
	}
	for _, t := range today {
		stats.TodayPnL = stats.TodayPnL.Add(t.Amount)
	}
	stats.TodayPnL = stats.TodayPnL.Add(summary.UnrealizedPnL)
	stats.TotalPnL = stats.RealizedPnL.Add(stats.UnrealizedPnL)
	if len(closed) > 0 {
		stats.WinRate = decimal.NewFromInt(int64(wins)).
			DivRound(decimal.NewFromInt(int64(len(closed))), pnl.DivPrecision).
			Mul(decimal.NewFromInt(100))
	}
	if recent == nil {
		recent = []model.Transaction{}
	}
	return model.Portfolio{
		Account:        summary,
		Positions:      views,
		Stats:          stats,
		RecentActivity: recent,
	}, nil
}
