// Package pay implements C6, the payment executor: spec.md §4.6.
//
// Grounded on the teacher's tryRebalance/pay/ErrRetry probe-and-retry
// flow in main.go: build an invoice, submit the route, classify the
// outcome, retry with updated amounts when the host gives us a hint.
// The teacher's invoiceCache (map[int64]*lnrpc.AddInvoiceResponse) is
// carried forward as the amount-keyed cache below so a retried probe at
// the same amount doesn't mint a new invoice.
package pay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/belief"
	"github.com/daywalker90/sling/internal/bolt4"
	"github.com/daywalker90/sling/internal/host"
	"github.com/daywalker90/sling/internal/model"
	"github.com/daywalker90/sling/internal/route"
	"github.com/daywalker90/sling/internal/slingerr"
	"github.com/daywalker90/sling/internal/stats"
)

// invoiceExpiry mirrors the teacher's "long expiry" self-payment
// invoice, since a rebalance route may be attempted well after the
// invoice was minted.
const invoiceExpiry = 24 * time.Hour

// Executor drives one payment attempt and reports its outcome back
// into the belief store and stats store.
type Executor struct {
	payer   host.Payer
	beliefs *belief.Store
	stats   *stats.Store
	log     *logrus.Entry

	mu           sync.Mutex
	invoiceCache map[model.Msat]host.Invoice
}

func NewExecutor(payer host.Payer, beliefs *belief.Store, st *stats.Store, log *logrus.Entry) *Executor {
	return &Executor{
		payer:        payer,
		beliefs:      beliefs,
		stats:        st,
		log:          log,
		invoiceCache: make(map[model.Msat]host.Invoice),
	}
}

func (e *Executor) invoiceFor(ctx context.Context, amt model.Msat) (host.Invoice, error) {
	e.mu.Lock()
	if inv, ok := e.invoiceCache[amt]; ok {
		e.mu.Unlock()
		return inv, nil
	}
	e.mu.Unlock()

	label := uuid.NewString()
	inv, err := e.payer.CreateSelfInvoice(ctx, amt, label, invoiceExpiry)
	if err != nil {
		return host.Invoice{}, slingerr.Transientf(err, "creating self-payment invoice")
	}
	e.mu.Lock()
	e.invoiceCache[amt] = inv
	e.mu.Unlock()
	return inv, nil
}

func (e *Executor) invalidateInvoice(amt model.Msat) {
	e.mu.Lock()
	delete(e.invoiceCache, amt)
	e.mu.Unlock()
}

// Result is what the Controller needs to know after one Execute call.
type Result struct {
	Success    bool
	FeeMsat    model.Msat
	Delivered  model.Msat
	// UnusableScid is set when the caller
	// should add an exclude-set entry beyond the belief store's own TTL
	// (e.g. to avoid immediately retrying the same edge this iteration).
	UnusableScid model.Scid
}

// maxHintRetries bounds the number of immediate same-route retries
// Execute will attempt after a fee_insufficient/incorrect_cltv_expiry/
// expiry_too_soon/amount_below_minimum/amount_above_maximum failure
// before giving up and letting the controller re-search, since a host
// that keeps reporting a new hint every attempt is not converging.
const maxHintRetries = 2

// Execute drives one attempt over r at amount amt, per spec.md §4.6's
// three numbered steps. timeout bounds the whole attempt including any
// same-route retries triggered by a host-reported hint.
func (e *Executor) Execute(ctx context.Context, job model.Job, r route.Route, amt model.Msat, timeout time.Duration) Result {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		inv, err := e.invoiceFor(attemptCtx, amt)
		if err != nil {
			e.log.WithError(err).Warn("failed to create invoice")
			return Result{}
		}

		edges := make([]model.DirectedChannel, len(r.Hops))
		for i, h := range r.Hops {
			edges[i] = h.Edge
		}

		outcome, err := e.payer.SendToRoute(attemptCtx, edges, inv)
		if err != nil {
			firstHop := r.Hops[0].Edge
			if attemptCtx.Err() == context.DeadlineExceeded {
				e.log.Warn("payment timed out")
				_ = e.payer.CancelInvoice(ctx, inv)
			} else {
				e.log.WithError(err).Warn("sendpay failed")
			}
			e.beliefs.ObserveChannelUnusable(firstHop.Scid, job.Direction, "disconnected_peer", firstHop.CapacityMsat)
			e.stats.Append(model.StatsRecord{
				Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
				AmountMsat: amt, Kind: model.Failure, Code: "disconnected_peer",
			})
			return Result{}
		}

		res, nextRoute, nextAmt, retry := e.classify(job, r, amt, outcome)
		if !retry || attempt >= maxHintRetries {
			if !res.Success {
				e.invalidateInvoice(amt)
			}
			return res
		}
		r, amt = nextRoute, nextAmt
	}
}

// classify interprets one payment outcome. When the host attached a
// fee/cltv/htlc-bound hint to a retryable failure, classify applies it
// and returns the recomputed route/amount with retry=true so Execute
// resubmits immediately, per spec.md §4.6.
func (e *Executor) classify(job model.Job, r route.Route, amt model.Msat, outcome host.Outcome) (Result, route.Route, model.Msat, bool) {
	if outcome.Success {
		for _, h := range r.Hops {
			e.beliefs.ObserveSuccess(h.Edge.Scid, job.Direction, h.AmtAtHop, h.Edge.CapacityMsat)
		}
		e.stats.Append(model.StatsRecord{
			Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
			AmountMsat: amt, Kind: model.Success, FeeMsat: outcome.FeeMsat, Route: r.Scids(),
		})
		e.log.Infof("Rebalance SUCCESSFULL after %d hops, fee %d msat", len(r.Hops), outcome.FeeMsat)
		return Result{Success: true, FeeMsat: outcome.FeeMsat, Delivered: amt}, r, amt, false
	}

	if outcome.Timeout {
		e.stats.Append(model.StatsRecord{
			Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
			AmountMsat: amt, Kind: model.Failure, AtHop: uint8(outcome.FailHop), Code: "timeout",
		})
		return Result{}, r, amt, false
	}

	if outcome.FailHop < 0 || outcome.FailHop >= len(r.Hops) {
		e.log.Warnf("forwarding failure reported out of range hop %d", outcome.FailHop)
		return Result{}, r, amt, false
	}
	failEdge := r.Hops[outcome.FailHop].Edge

	switch bolt4.Classify(outcome.FailCode) {
	case bolt4.ClassCouldNotForward:
		e.beliefs.ObserveFailureCouldNotForward(failEdge.Scid, job.Direction, r.Hops[outcome.FailHop].AmtAtHop, failEdge.CapacityMsat)
		e.beliefs.ObserveChannelUnusable(failEdge.Scid, job.Direction, string(outcome.FailCode), failEdge.CapacityMsat)
	case bolt4.ClassRetryWithHints:
		updated := applyHints(failEdge, outcome)
		if nr, ok := route.Rematerialize(r, job, amt, e.beliefs, outcome.FailHop, updated); ok {
			e.log.WithField("hop", outcome.FailHop).Info("retrying same route with host's updated fee/cltv policy")
			e.stats.Append(model.StatsRecord{
				Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
				AmountMsat: amt, Kind: model.Failure, AtHop: uint8(outcome.FailHop), Code: string(outcome.FailCode),
			})
			return Result{}, nr, amt, true
		}
	case bolt4.ClassHTLCBounds:
		e.beliefs.ObserveHtlcBoundHint(failEdge.Scid, job.Direction, outcome.HtlcMinHint, outcome.HtlcMaxHint, failEdge.CapacityMsat)
		updated := applyHints(failEdge, outcome)
		if nr, ok := route.Rematerialize(r, job, amt, e.beliefs, outcome.FailHop, updated); ok {
			e.log.WithField("hop", outcome.FailHop).Info("retrying same route after updating htlc bounds")
			e.stats.Append(model.StatsRecord{
				Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
				AmountMsat: amt, Kind: model.Failure, AtHop: uint8(outcome.FailHop), Code: string(outcome.FailCode),
			})
			return Result{}, nr, amt, true
		}
	case bolt4.ClassInternal:
		e.log.WithField("hop", outcome.FailHop).Warn("internal routing error on self-node, not a liquidity signal")
		e.stats.Append(model.StatsRecord{
			Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
			AmountMsat: amt, Kind: model.Failure, AtHop: uint8(outcome.FailHop), Code: string(outcome.FailCode),
		})
		return Result{}, r, amt, false
	case bolt4.ClassPermanent:
		e.beliefs.ObserveChannelUnusable(failEdge.Scid, job.Direction, "permanent", failEdge.CapacityMsat)
	}

	e.stats.Append(model.StatsRecord{
		Scid: job.Scid, Timestamp: time.Now().Unix(), Direction: job.Direction,
		AmountMsat: amt, Kind: model.Failure, AtHop: uint8(outcome.FailHop), Code: string(outcome.FailCode),
	})
	return Result{UnusableScid: failEdge.Scid}, r, amt, false
}

// applyHints returns edge with any non-zero host-reported policy hint
// from outcome applied, leaving fields the host didn't update untouched.
func applyHints(edge model.DirectedChannel, outcome host.Outcome) model.DirectedChannel {
	updated := edge
	if outcome.UpdatedFeeBaseMsat > 0 {
		updated.FeeBaseMsat = outcome.UpdatedFeeBaseMsat
	}
	if outcome.UpdatedFeePPM > 0 {
		updated.FeePPM = outcome.UpdatedFeePPM
	}
	if outcome.UpdatedCltvDelta > 0 {
		updated.CltvDelta = outcome.UpdatedCltvDelta
	}
	if outcome.HtlcMinHint > 0 {
		updated.HtlcMinMsat = outcome.HtlcMinHint
	}
	if outcome.HtlcMaxHint > 0 {
		updated.HtlcMaxMsat = outcome.HtlcMaxHint
	}
	return updated
}
