package executor

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// FillParams are the fixed inputs of one BUY fill loop.
type FillParams struct {
	AssetID string
	// ObservedPrice is the price the copied trader paid.
	ObservedPrice     decimal.Decimal
	SlippageTolerance decimal.Decimal
	MinOrderUSD       decimal.Decimal
	RetryLimit        int
}

// FillState is the progress of a BUY fill loop. It is a value; every
// transition returns a new state.
type FillState struct {
	Target    decimal.Decimal
	Remaining decimal.Decimal
	Spent     decimal.Decimal
	Fills     int
	Retries   int
	Done      bool
	Outcome   domain.ExecutionOutcome
}

// NewFillState starts a loop that will spend up to amount USDC.
func NewFillState(amount decimal.Decimal) FillState {
	return FillState{Target: amount, Remaining: amount}
}

// Succeeded records a filled order of spend USDC and resets the retry count.
func (s FillState) Succeeded(spend decimal.Decimal) FillState {
	s.Remaining = s.Remaining.Sub(spend)
	if s.Remaining.IsNegative() {
		s.Remaining = decimal.Zero
	}
	s.Spent = s.Spent.Add(spend)
	s.Fills++
	s.Retries = 0
	return s
}

// Failed records a failed attempt: a rejected order or an unreadable book.
func (s FillState) Failed() FillState {
	s.Retries++
	return s
}

// Finish ends the loop with outcome.
func (s FillState) Finish(outcome domain.ExecutionOutcome) FillState {
	s.Done = true
	s.Outcome = outcome
	return s
}

// Resolution maps a finished loop onto the event's terminal state: executed
// when anything was bought or nothing is left to buy.
func (s FillState) Resolution() domain.Resolution {
	state := domain.StateSkipped
	if s.Fills > 0 || !s.Remaining.IsPositive() {
		state = domain.StateExecuted
	}
	return domain.Resolution{
		State:   state,
		Outcome: s.Outcome,
		Spent:   s.Spent,
		Detail: fmt.Sprintf("spent %s of %s USDC in %d fill(s)",
			s.Spent.StringFixed(2), s.Target.StringFixed(2), s.Fills),
	}
}

// ActionKind tells the driver what to do after a Step.
type ActionKind int

const (
	ActionDone ActionKind = iota
	ActionSubmit
)

// Action is the side effect requested by Step.
type Action struct {
	Kind  ActionKind
	Order domain.OrderRequest
	// Spend is the USDC the order commits at the quoted price.
	Spend decimal.Decimal
}

// Step decides the next move of the fill loop from the current book. It is
// pure: the caller performs the submission and reports back with Succeeded
// or Failed.
func Step(s FillState, book domain.OrderBook, p FillParams) (FillState, Action) {
	if s.Done {
		return s, Action{Kind: ActionDone}
	}
	if !s.Remaining.IsPositive() {
		return s.Finish(domain.OutcomeFilled), Action{Kind: ActionDone}
	}
	if s.Retries >= p.RetryLimit {
		return s.Finish(domain.OutcomeAbortRetries), Action{Kind: ActionDone}
	}

	ask, ok := book.BestAsk()
	if !ok || !ask.Price.IsPositive() {
		return s.Finish(domain.OutcomeAbortNoLiquidity), Action{Kind: ActionDone}
	}
	if ask.Price.Sub(p.ObservedPrice).GreaterThan(p.SlippageTolerance) {
		return s.Finish(domain.OutcomeAbortSlippage), Action{Kind: ActionDone}
	}

	spend := decimal.Min(s.Remaining, ask.Size.Mul(ask.Price))
	if spend.LessThan(p.MinOrderUSD) {
		// The rest cannot be bought at a tradable size. A leftover that is
		// itself under the minimum counts as fully filled.
		outcome := domain.OutcomePartialBelowMin
		if s.Remaining.LessThan(p.MinOrderUSD) {
			outcome = domain.OutcomeFilled
		}
		s.Remaining = decimal.Zero
		return s.Finish(outcome), Action{Kind: ActionDone}
	}

	return s, Action{
		Kind:  ActionSubmit,
		Spend: spend,
		Order: domain.OrderRequest{
			AssetID: p.AssetID,
			Side:    domain.OrderSideBuy,
			Size:    spend.Div(ask.Price),
			Price:   ask.Price,
			Type:    domain.OrderTypeFOK,
		},
	}
}
