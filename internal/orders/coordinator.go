package orders

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/pricing"
	"github.com/rs/zerolog"
)

// CoordinatorConfig carries the execution knobs.
type CoordinatorConfig struct {
	PlannedSplits   int
	MinOrderQty     int64
	StalenessWindow time.Duration
	MaxGapBuyPct    float64
	MaxGapSellPct   float64
	ErrorMsgLimit   int
	Ticks           pricing.TickPolicy
}

// Coordinator drives one execution cycle of a queue: fresh placement when
// nothing is open, reconciliation (complete/amend/skip) when it is.
type Coordinator struct {
	brokerage domain.BrokerageClient
	orderLogs domain.OrderLogRepository
	report    domain.ReportSink
	cfg       CoordinatorConfig
	log       zerolog.Logger

	// Injected for tests.
	now func() time.Time
}

// NewCoordinator creates an execution coordinator.
func NewCoordinator(brokerage domain.BrokerageClient, orderLogs domain.OrderLogRepository, report domain.ReportSink, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		brokerage: brokerage,
		orderLogs: orderLogs,
		report:    report,
		cfg:       cfg,
		log:       log.With().Str("service", "coordinator").Logger(),
		now:       time.Now,
	}
}

// RunCycle executes one cycle for the queue. When no legs are open it
// places the next TWAP chunk per basket symbol; when legs are open it
// reconciles them against the brokerage's unexecuted set and amends the
// ones that went stale or drifted.
//
// Brokerage rejections are recorded on the leg, not propagated: only
// infrastructure failures (storage, history fetch) abort the cycle.
func (c *Coordinator) RunCycle(ctx context.Context, account *domain.Account, queue *domain.Queue) error {
	open, err := c.orderLogs.GetByQueueAndStatus(queue.ID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to load open legs: %w", err)
	}
	if len(open) == 0 {
		return c.placeFresh(ctx, account, queue)
	}
	return c.reconcile(ctx, account, queue, open)
}

// placeFresh places the next chunk of every basket symbol that still has
// remaining quantity.
func (c *Coordinator) placeFresh(ctx context.Context, account *domain.Account, queue *domain.Queue) error {
	history, err := c.orderLogs.GetByQueue(queue.ID)
	if err != nil {
		return fmt.Errorf("failed to load leg history: %w", err)
	}

	for symbol, row := range queue.Basket {
		total := row.NewShares
		if total < 0 {
			total = -total
		}
		if total == 0 {
			continue
		}

		var executed int64
		splitsDone := 0
		for _, leg := range history {
			if leg.Symbol != symbol {
				continue
			}
			if leg.Status == domain.StatusCompleted {
				executed += leg.Shares
			}
			if isRegister(leg.Type) && leg.Status != domain.StatusFailed {
				splitsDone++
			}
		}

		remaining := total - executed
		qty := ChunkQty(total, remaining, c.cfg.PlannedSplits, c.cfg.PlannedSplits-splitsDone, c.cfg.MinOrderQty)
		if qty == 0 {
			continue
		}

		side := pricing.SideBuy
		if row.NewShares < 0 {
			side = pricing.SideSell
		}
		orderPrice := pricing.AdjustPrice(row.USDPrice, side, c.cfg.Ticks)

		req := domain.OrderRequest{
			AccountNumber: account.AccountNumber,
			Symbol:        symbol,
			Side:          string(side),
			Shares:        qty,
			Price:         orderPrice,
			Currency:      "USD",
			ExchangeRate:  exchangeRate(row),
		}
		c.report.WriteBody(req, "order placement")

		leg := &domain.OrderLog{
			QueueID:     queue.ID,
			Symbol:      symbol,
			Type:        registerType(side),
			Shares:      qty,
			OrderPrice:  orderPrice,
			MarketPrice: row.USDPrice,
			CreatedAt:   c.now(),
		}

		reply, err := c.brokerage.PlaceOrder(ctx, req)
		if err != nil {
			leg.Status = domain.StatusFailed
			leg.ErrorMsg = c.truncate(err.Error())
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Order placement rejected")
		} else {
			leg.Status = domain.StatusProcessing
			leg.OrderNo = reply.OrderNo
		}
		c.report.WriteBody(leg, "order placement result")

		if err := c.orderLogs.Create(leg); err != nil {
			return fmt.Errorf("failed to record leg for %s: %w", symbol, err)
		}
	}
	return nil
}

// reconcile compares open legs against the brokerage's unexecuted orders.
// A leg that vanished from the unexecuted set filled and is completed. Of
// the legs still open, stale-by-age ones are amended; when none are stale,
// price-gapped ones are. One policy per cycle, age first.
func (c *Coordinator) reconcile(ctx context.Context, account *domain.Account, queue *domain.Queue, open []domain.OrderLog) error {
	fromDate := c.now().AddDate(0, 0, -7)
	unexecuted, err := c.brokerage.GetTradeHistory(ctx, account.AccountNumber, false, fromDate)
	if err != nil {
		return fmt.Errorf("failed to load unexecuted orders: %w", err)
	}
	c.report.WriteBody(unexecuted, "unexecuted order reconciliation")

	stillOpen := make(map[string]bool, len(unexecuted))
	marketPrice := make(map[string]float64, len(unexecuted))
	for _, t := range unexecuted {
		stillOpen[t.OrderNo] = true
		marketPrice[t.Symbol] = t.Price
	}

	var remaining []domain.OrderLog
	for i := range open {
		leg := open[i]
		if !stillOpen[leg.OrderNo] {
			now := c.now()
			leg.Status = domain.StatusCompleted
			leg.ConcludedAt = &now
			if err := c.orderLogs.Update(&leg); err != nil {
				return fmt.Errorf("failed to complete leg %s: %w", leg.OrderNo, err)
			}
			c.log.Info().Str("symbol", leg.Symbol).Str("order_no", leg.OrderNo).Msg("Leg filled")
			continue
		}
		remaining = append(remaining, leg)
	}

	var stale, gapped []domain.OrderLog
	cutoff := c.now().Add(-c.cfg.StalenessWindow)
	for _, leg := range remaining {
		if leg.CreatedAt.Before(cutoff) {
			stale = append(stale, leg)
			continue
		}
		market, ok := marketPrice[leg.Symbol]
		if ok && leg.OrderPrice > 0 && c.gapExceeded(leg, market) {
			gapped = append(gapped, leg)
		}
	}

	toAmend := stale
	if len(toAmend) == 0 {
		toAmend = gapped
	}
	for i := range toAmend {
		if err := c.amend(ctx, account, queue, &toAmend[i], marketPrice[toAmend[i].Symbol]); err != nil {
			return err
		}
	}
	return nil
}

// amend re-prices one open leg at the current market. A confirmed
// amendment supersedes the prior leg, which is marked skipped.
func (c *Coordinator) amend(ctx context.Context, account *domain.Account, queue *domain.Queue, prior *domain.OrderLog, market float64) error {
	side := legSide(prior.Type)
	if market <= 0 {
		market = prior.MarketPrice
	}
	newPrice := pricing.AdjustPrice(market, side, c.cfg.Ticks)

	req := domain.AmendRequest{
		AccountNumber: account.AccountNumber,
		OrderNo:       prior.OrderNo,
		Symbol:        prior.Symbol,
		Shares:        prior.Shares,
		Price:         newPrice,
	}
	c.report.WriteBody(req, "order amendment")

	leg := &domain.OrderLog{
		QueueID:     queue.ID,
		Symbol:      prior.Symbol,
		Type:        amendType(side),
		Shares:      prior.Shares,
		OrderPrice:  newPrice,
		MarketPrice: market,
		CreatedAt:   c.now(),
	}

	reply, err := c.brokerage.AmendOrCancelOrder(ctx, req)
	if err != nil {
		leg.Status = domain.StatusFailed
		leg.ErrorMsg = c.truncate(err.Error())
		c.log.Warn().Err(err).Str("symbol", prior.Symbol).Str("order_no", prior.OrderNo).Msg("Amendment rejected")
	} else {
		leg.Status = domain.StatusProcessing
		leg.OrderNo = reply.OrderNo
	}
	c.report.WriteBody(leg, "order amendment result")

	if err := c.orderLogs.Create(leg); err != nil {
		return fmt.Errorf("failed to record amend leg for %s: %w", prior.Symbol, err)
	}

	if leg.Status == domain.StatusProcessing {
		prior.Status = domain.StatusSkipped
		if err := c.orderLogs.Update(prior); err != nil {
			return fmt.Errorf("failed to supersede leg %s: %w", prior.OrderNo, err)
		}
	}
	return nil
}

// CancelOpen withdraws every open leg from the brokerage. It is the
// cooperative-cancellation pass: the caller marks the owning queue
// canceled afterwards, which settles the remaining legs through the
// status cascade. A rejected cancellation is recorded as a failed leg
// and the live order is left for the brokerage to expire.
func (c *Coordinator) CancelOpen(ctx context.Context, account *domain.Account, queue *domain.Queue, open []domain.OrderLog) error {
	for i := range open {
		if err := c.cancel(ctx, account, queue, &open[i]); err != nil {
			return err
		}
	}
	return nil
}

// cancel withdraws one open leg.
func (c *Coordinator) cancel(ctx context.Context, account *domain.Account, queue *domain.Queue, prior *domain.OrderLog) error {
	req := domain.AmendRequest{
		AccountNumber: account.AccountNumber,
		OrderNo:       prior.OrderNo,
		Symbol:        prior.Symbol,
		Shares:        prior.Shares,
		Cancel:        true,
	}
	c.report.WriteBody(req, "order cancellation")

	leg := &domain.OrderLog{
		QueueID:     queue.ID,
		Symbol:      prior.Symbol,
		Type:        cancelType(legSide(prior.Type)),
		Shares:      prior.Shares,
		OrderPrice:  prior.OrderPrice,
		MarketPrice: prior.MarketPrice,
		CreatedAt:   c.now(),
	}

	reply, err := c.brokerage.AmendOrCancelOrder(ctx, req)
	if err != nil {
		leg.Status = domain.StatusFailed
		leg.ErrorMsg = c.truncate(err.Error())
		c.log.Warn().Err(err).Str("symbol", prior.Symbol).Str("order_no", prior.OrderNo).Msg("Cancellation rejected")
	} else {
		leg.Status = domain.StatusProcessing
		leg.OrderNo = reply.OrderNo
	}
	c.report.WriteBody(leg, "order cancellation result")

	if err := c.orderLogs.Create(leg); err != nil {
		return fmt.Errorf("failed to record cancel leg for %s: %w", prior.Symbol, err)
	}
	return nil
}

func (c *Coordinator) gapExceeded(leg domain.OrderLog, market float64) bool {
	gap := math.Abs(market-leg.OrderPrice) / leg.OrderPrice
	if legSide(leg.Type) == pricing.SideBuy {
		return gap > c.cfg.MaxGapBuyPct
	}
	return gap > c.cfg.MaxGapSellPct
}

func (c *Coordinator) truncate(msg string) string {
	if c.cfg.ErrorMsgLimit > 0 && len(msg) > c.cfg.ErrorMsgLimit {
		return msg[:c.cfg.ErrorMsgLimit]
	}
	return msg
}

func exchangeRate(row domain.BasketRow) float64 {
	if row.USDPrice <= 0 {
		return 0
	}
	return row.KRWPrice / row.USDPrice
}

func isRegister(t domain.LegType) bool {
	return t == domain.LegBidRegister || t == domain.LegAskRegister
}

func legSide(t domain.LegType) pricing.Side {
	if strings.HasPrefix(string(t), "bid") {
		return pricing.SideBuy
	}
	return pricing.SideSell
}

func registerType(side pricing.Side) domain.LegType {
	if side == pricing.SideBuy {
		return domain.LegBidRegister
	}
	return domain.LegAskRegister
}

func amendType(side pricing.Side) domain.LegType {
	if side == pricing.SideBuy {
		return domain.LegBidAmend
	}
	return domain.LegAskAmend
}

func cancelType(side pricing.Side) domain.LegType {
	if side == pricing.SideBuy {
		return domain.LegBidCancel
	}
	return domain.LegAskCancel
}
