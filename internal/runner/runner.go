// Package runner orchestrates one account's end-to-end run: load state,
// compute the target, build or resume a queue, and drive the execution
// cycle. Accounts are independent jobs; a failure in one never aborts the
// batch.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/account"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/lifecycle"
	"github.com/aristath/helmsman/internal/orders"
	"github.com/aristath/helmsman/internal/portfolio"
	"github.com/aristath/helmsman/internal/pricing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// tradeLookback bounds the history window of the consistency checksum.
const tradeLookback = 7 * 24 * time.Hour

// Config carries the rebalancing thresholds the runner applies.
type Config struct {
	SlippageThreshold  float64
	MinDepositRatio    float64
	DepositBufferRatio float64
	DefaultEmphasis    string
}

// Runner drives per-account rebalancing and liquidation runs.
type Runner struct {
	accounts   domain.AccountRepository
	portfolios domain.PortfolioRepository
	queues     domain.QueueRepository
	orderLogs  domain.OrderLogRepository
	marketData domain.MarketDataClient
	fxClient   domain.FXClient

	reader    *account.StateReader
	manager   *portfolio.Manager
	basket    *orders.BasketBuilder
	coord     *orders.Coordinator
	lifecycle *lifecycle.Manager
	report    domain.ReportSink

	cfg Config
	log zerolog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(
	accounts domain.AccountRepository,
	portfolios domain.PortfolioRepository,
	queues domain.QueueRepository,
	orderLogs domain.OrderLogRepository,
	marketData domain.MarketDataClient,
	fxClient domain.FXClient,
	reader *account.StateReader,
	manager *portfolio.Manager,
	basket *orders.BasketBuilder,
	coord *orders.Coordinator,
	lc *lifecycle.Manager,
	report domain.ReportSink,
	cfg Config,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		accounts:   accounts,
		portfolios: portfolios,
		queues:     queues,
		orderLogs:  orderLogs,
		marketData: marketData,
		fxClient:   fxClient,
		reader:     reader,
		manager:    manager,
		basket:     basket,
		coord:      coord,
		lifecycle:  lc,
		report:     report,
		cfg:        cfg,
		log:        log.With().Str("service", "runner").Logger(),
	}
}

// RunAll runs a rebalancing cycle over every active account.
func (r *Runner) RunAll(ctx context.Context) error {
	accounts, err := r.accounts.ListByStatus(domain.AccountNormal)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	for i := range accounts {
		r.runIsolated(ctx, &accounts[i], r.RunAccount)
	}
	return nil
}

// RunClosings runs the liquidation cycle over accounts waiting to be sold
// out.
func (r *Runner) RunClosings(ctx context.Context) error {
	accounts, err := r.accounts.ListByStatus(domain.AccountSellWaiting)
	if err != nil {
		return fmt.Errorf("failed to list closing accounts: %w", err)
	}

	for i := range accounts {
		r.runIsolated(ctx, &accounts[i], r.RunClosing)
	}
	return nil
}

// RunCancellations stops the active queue of every account marked
// canceled.
func (r *Runner) RunCancellations(ctx context.Context) error {
	accounts, err := r.accounts.ListByStatus(domain.AccountCanceled)
	if err != nil {
		return fmt.Errorf("failed to list canceled accounts: %w", err)
	}

	for i := range accounts {
		r.runIsolated(ctx, &accounts[i], r.CancelRun)
	}
	return nil
}

// runIsolated runs one account's job with panic recovery. Errors and
// panics are logged and contained.
func (r *Runner) runIsolated(ctx context.Context, acct *domain.Account, fn func(context.Context, *domain.Account) error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("account", acct.Alias).
				Interface("panic", rec).
				Msg("Account run panicked")
		}
	}()

	if err := fn(ctx, acct); err != nil {
		r.log.Error().Err(err).Str("account", acct.Alias).Msg("Account run failed")
	}
}

// RunAccount runs one rebalancing cycle for an account: resume the active
// queue if one exists, otherwise decide whether the portfolio drifted
// enough to warrant a new run and start one.
func (r *Runner) RunAccount(ctx context.Context, acct *domain.Account) error {
	if err := r.checksum(ctx, acct); err != nil {
		return err
	}

	active, err := r.queues.GetActiveByAccount(acct.Alias)
	if err != nil {
		return fmt.Errorf("failed to look up active queue: %w", err)
	}
	if active != nil {
		return r.resume(ctx, acct, active)
	}

	state, err := r.reader.LoadState(ctx, acct)
	if err != nil {
		return err
	}
	model, err := r.portfolios.Get(acct.PortfolioID)
	if err != nil {
		return fmt.Errorf("failed to load model portfolio %d: %w", acct.PortfolioID, err)
	}

	prices, err := r.loadPrices(ctx, state, model)
	if err != nil {
		return err
	}

	maxBase := portfolio.MaxOrderBase(state.Base+investedAmount(state), r.cfg.MinDepositRatio, r.cfg.DepositBufferRatio)
	if maxBase <= 0 {
		return fmt.Errorf("%w: account %s has no investable base", domain.ErrPreconditionFailed, acct.Alias)
	}

	emphasis, err := pricing.ForName(r.emphasisFor(acct))
	if err != nil {
		return err
	}

	krw := krwPrices(prices)
	target, err := r.manager.CalcRebalancingPortfolio(maxBase, model.Weights, krw, emphasis, acct.AllowMinusGross)
	if err != nil {
		return err
	}

	if !portfolio.IsRebalancingConditionMet(currentWeights(state, maxBase), targetWeights(target), r.cfg.SlippageThreshold) {
		r.log.Info().Str("account", acct.Alias).Msg("Portfolio within threshold, skipping run")
		return nil
	}

	// Sell legs free the cash the buy legs need, so ask runs first; the
	// bid queue starts on a later cycle once the ask queue concludes.
	mode := domain.ModeAsk
	basket, err := r.basket.Build(mode, state, target, prices)
	if err != nil {
		return err
	}
	if len(basket) == 0 {
		mode = domain.ModeBid
		basket, err = r.basket.Build(mode, state, target, prices)
		if err != nil {
			return err
		}
	}
	if len(basket) == 0 {
		r.log.Info().Str("account", acct.Alias).Msg("No deltas to execute")
		return nil
	}

	return r.startQueue(ctx, acct, mode, basket)
}

// RunClosing runs one liquidation cycle: everything the account holds is
// sold, restricted to symbols the market data master supports.
func (r *Runner) RunClosing(ctx context.Context, acct *domain.Account) error {
	if err := r.checksum(ctx, acct); err != nil {
		return err
	}

	active, err := r.queues.GetActiveByAccount(acct.Alias)
	if err != nil {
		return fmt.Errorf("failed to look up active queue: %w", err)
	}
	if active != nil {
		if err := r.resume(ctx, acct, active); err != nil {
			return err
		}
		refreshed, err := r.queues.Get(active.ID)
		if err != nil {
			return err
		}
		if refreshed.Status == domain.StatusCompleted {
			if err := r.accounts.UpdateStatus(acct.Alias, domain.AccountSellCompleted); err != nil {
				return fmt.Errorf("failed to mark account sold out: %w", err)
			}
		}
		return nil
	}

	state, err := r.reader.LoadStateForClosing(ctx, acct)
	if err != nil {
		return err
	}
	if len(state.Holdings) == 0 {
		if err := r.accounts.UpdateStatus(acct.Alias, domain.AccountSellCompleted); err != nil {
			return fmt.Errorf("failed to mark account sold out: %w", err)
		}
		return nil
	}

	symbols := make([]string, 0, len(state.Holdings))
	for s := range state.Holdings {
		symbols = append(symbols, s)
	}
	prices, err := r.marketData.GetPrices(ctx, symbols)
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}
	if err := r.fillWonPrices(ctx, prices); err != nil {
		return err
	}

	basket, err := r.basket.Build(domain.ModeSell, state, nil, prices)
	if err != nil {
		return err
	}
	if len(basket) == 0 {
		return nil
	}
	return r.startQueue(ctx, acct, domain.ModeSell, basket)
}

// CancelRun withdraws an account's active queue. Open orders are canceled
// at the brokerage first, then the queue is marked canceled, which
// cascades the status to whatever legs remain open. The mark stops
// further advancement only; an order whose cancellation the brokerage
// rejected stays live there until it expires.
func (r *Runner) CancelRun(ctx context.Context, acct *domain.Account) error {
	active, err := r.queues.GetActiveByAccount(acct.Alias)
	if err != nil {
		return fmt.Errorf("failed to look up active queue: %w", err)
	}
	if active == nil {
		return nil
	}

	open, err := r.orderLogs.GetByQueueAndStatus(active.ID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to load open legs: %w", err)
	}
	if len(open) > 0 {
		if err := r.coord.CancelOpen(ctx, acct, active, open); err != nil {
			return err
		}
	}
	return r.lifecycle.TransitionQueue(active, domain.StatusCanceled, "account canceled")
}

// checksum guards against manual trading interference. A foreign-channel
// trade suspends the account until an operator clears it.
func (r *Runner) checksum(ctx context.Context, acct *domain.Account) error {
	err := r.reader.ChecksumTradeHistory(ctx, acct, time.Now().Add(-tradeLookback))
	if err == nil {
		return nil
	}
	if domain.IsStopOrderOperation(err) {
		if updateErr := r.accounts.UpdateStatus(acct.Alias, domain.AccountSuspended); updateErr != nil {
			r.log.Error().Err(updateErr).Str("account", acct.Alias).Msg("Failed to suspend account")
		}
	}
	return err
}

// startQueue creates a queue, moves it to on_hold and runs the first
// execution cycle.
func (r *Runner) startQueue(ctx context.Context, acct *domain.Account, mode domain.OrderMode, basket domain.OrderBasket) error {
	queue := &domain.Queue{
		ID:           uuid.NewString(),
		AccountAlias: acct.Alias,
		PortfolioID:  acct.PortfolioID,
		Mode:         mode,
		Status:       domain.StatusPending,
		Basket:       basket,
	}
	if err := r.queues.Create(queue); err != nil {
		return fmt.Errorf("failed to create queue: %w", err)
	}
	r.report.WriteBody(queue, "order run started")

	if err := r.lifecycle.TransitionQueue(queue, domain.StatusOnHold, "run started"); err != nil {
		return err
	}
	return r.cycle(ctx, acct, queue)
}

// resume continues an existing queue. Terminal queues are left alone.
func (r *Runner) resume(ctx context.Context, acct *domain.Account, queue *domain.Queue) error {
	if queue.Status.IsTerminal() {
		return nil
	}
	return r.cycle(ctx, acct, queue)
}

// cycle runs one coordinator pass and settles the queue's status from the
// resulting leg set.
func (r *Runner) cycle(ctx context.Context, acct *domain.Account, queue *domain.Queue) error {
	if err := r.coord.RunCycle(ctx, acct, queue); err != nil {
		return err
	}

	open, err := r.orderLogs.GetByQueueAndStatus(queue.ID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to load open legs: %w", err)
	}

	if len(open) > 0 {
		if queue.Status == domain.StatusOnHold {
			return r.lifecycle.TransitionQueue(queue, domain.StatusProcessing, "orders placed")
		}
		return nil
	}

	done, err := r.remainingDone(queue)
	if err != nil {
		return err
	}
	if done && queue.Status == domain.StatusProcessing {
		return r.lifecycle.TransitionQueue(queue, domain.StatusCompleted, "all legs concluded")
	}
	if queue.Status == domain.StatusOnHold {
		// Nothing was placed and nothing is open: every placement in
		// this cycle was rejected.
		return r.lifecycle.TransitionQueue(queue, domain.StatusFailed, "no legs could be placed")
	}
	return nil
}

// remainingDone reports whether every basket symbol's quantity has been
// filled by completed legs.
func (r *Runner) remainingDone(queue *domain.Queue) (bool, error) {
	legs, err := r.orderLogs.GetByQueue(queue.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load legs: %w", err)
	}

	executed := make(map[string]int64)
	for _, leg := range legs {
		if leg.Status == domain.StatusCompleted {
			executed[leg.Symbol] += leg.Shares
		}
	}
	for symbol, row := range queue.Basket {
		want := row.NewShares
		if want < 0 {
			want = -want
		}
		if executed[symbol] < want {
			return false, nil
		}
	}
	return true, nil
}

func (r *Runner) emphasisFor(acct *domain.Account) string {
	if acct.Emphasis != "" {
		return acct.Emphasis
	}
	return r.cfg.DefaultEmphasis
}

func (r *Runner) loadPrices(ctx context.Context, state *domain.CurrentPortfolio, model *domain.ModelPortfolio) (map[string]domain.Price, error) {
	symbols := make(map[string]bool, len(state.Holdings)+len(model.Weights))
	for s := range state.Holdings {
		symbols[s] = true
	}
	for s, w := range model.Weights {
		if w > 0 {
			symbols[s] = true
		}
	}
	list := make([]string, 0, len(symbols))
	for s := range symbols {
		list = append(list, s)
	}

	prices, err := r.marketData.GetPrices(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}
	if err := r.fillWonPrices(ctx, prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// fillWonPrices converts quotes the market data feed returned without a
// KRW price, using the day's won rate. The rate lookup is memoized per
// (API base, date), so at most one FX call happens per run window.
func (r *Runner) fillWonPrices(ctx context.Context, prices map[string]domain.Price) error {
	var missing []string
	for s, p := range prices {
		if p.KRWPrice == 0 && p.Last > 0 {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	rate, err := r.fxClient.GetWonRate(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to load won rate: %w", err)
	}
	for _, s := range missing {
		p := prices[s]
		p.KRWPrice = p.Last * rate
		prices[s] = p
	}
	return nil
}

func krwPrices(prices map[string]domain.Price) map[string]float64 {
	out := make(map[string]float64, len(prices))
	for s, p := range prices {
		out[s] = p.KRWPrice
	}
	return out
}

func currentWeights(state *domain.CurrentPortfolio, maxBase float64) map[string]float64 {
	out := make(map[string]float64, len(state.Holdings))
	for s, h := range state.Holdings {
		out[s] = h.EvaluateAmount / maxBase
	}
	return out
}

func targetWeights(target map[string]portfolio.TargetPosition) map[string]float64 {
	out := make(map[string]float64, len(target))
	for s, t := range target {
		out[s] = t.Weight
	}
	return out
}

func investedAmount(state *domain.CurrentPortfolio) float64 {
	var sum float64
	for _, h := range state.Holdings {
		sum += h.EvaluateAmount
	}
	return sum
}
