package pay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/daywalker90/sling/internal/belief"
	"github.com/daywalker90/sling/internal/bolt4"
	"github.com/daywalker90/sling/internal/host"
	"github.com/daywalker90/sling/internal/model"
	"github.com/daywalker90/sling/internal/route"
	"github.com/daywalker90/sling/internal/stats"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakePayer struct {
	invoices int
	canceled int
	outcome  host.Outcome
	sendErr  error
	sawRoute []model.DirectedChannel

	// outcomes, when non-nil, is consumed one per SendToRoute call
	// (sticking on the last entry), letting a test script a retry.
	outcomes []host.Outcome
	calls    int
}

func (f *fakePayer) CreateSelfInvoice(ctx context.Context, amt model.Msat, label string, expiry time.Duration) (host.Invoice, error) {
	f.invoices++
	return host.Invoice{PaymentHash: label, AmountMsat: amt}, nil
}

func (f *fakePayer) SendToRoute(ctx context.Context, r []model.DirectedChannel, inv host.Invoice) (host.Outcome, error) {
	f.sawRoute = r
	if f.outcomes == nil {
		return f.outcome, f.sendErr
	}
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[idx], f.sendErr
}

func (f *fakePayer) CancelInvoice(ctx context.Context, inv host.Invoice) error {
	f.canceled++
	return nil
}

func testEdge(scid model.Scid) model.DirectedChannel {
	return model.DirectedChannel{
		Scid: scid, FromNode: "A", ToNode: "B",
		CapacityMsat: 1_000_000_000, HtlcMinMsat: 1, HtlcMaxMsat: 1_000_000_000,
		Active: true,
	}
}

func testRoute() route.Route {
	return route.Route{Hops: []route.Hop{
		{Edge: testEdge(1), AmtAtHop: 100_000},
		{Edge: testEdge(2), AmtAtHop: 99_000},
	}}
}

func newTestStats(t *testing.T) *stats.Store {
	t.Helper()
	s := stats.NewStore(t.TempDir(), stats.Config{
		Successes: stats.PrunePolicy{MaxAge: time.Hour, MaxSize: 100},
		Failures:  stats.PrunePolicy{MaxAge: time.Hour, MaxSize: 100},
	}, nil)
	t.Cleanup(s.Close)
	return s
}

func TestExecuteSuccessUpdatesBeliefsAndStats(t *testing.T) {
	payer := &fakePayer{outcome: host.Outcome{Success: true, FeeMsat: 50}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.True(t, res.Success)
	require.Equal(t, model.Msat(50), res.FeeMsat)
	require.Equal(t, 1, payer.invoices)

	succ, _ := st.PerChannel(2)
	require.Equal(t, 1, succ.Count)
}

func TestExecuteReusesInvoiceForSameAmount(t *testing.T) {
	payer := &fakePayer{outcome: host.Outcome{Success: true}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull}
	exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)
	exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.Equal(t, 1, payer.invoices)
}

func TestExecuteFailureInvalidatesInvoiceAndMarksUnusable(t *testing.T) {
	payer := &fakePayer{outcome: host.Outcome{
		Success: false, FailHop: 0, FailCode: bolt4.TemporaryChannelFailure,
	}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.False(t, res.Success)
	require.Equal(t, model.Scid(1), res.UnusableScid)
	require.True(t, beliefs.Unusable(1, model.Pull, time.Now()))

	exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)
	require.Equal(t, 2, payer.invoices)
}

func TestExecuteSendToRouteErrorMarksDisconnectedPeerUnusable(t *testing.T) {
	payer := &fakePayer{sendErr: context.Canceled}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.False(t, res.Success)
	require.True(t, beliefs.Unusable(1, model.Pull, time.Now()))
	sum := st.Summary([]model.Scid{2})
	require.Equal(t, 1, sum[2].FailureCount)
}

func TestExecuteRetriesImmediatelyWithUpdatedFeeHint(t *testing.T) {
	payer := &fakePayer{outcomes: []host.Outcome{
		{Success: false, FailHop: 1, FailCode: bolt4.FeeInsufficient, UpdatedFeeBaseMsat: 500, UpdatedFeePPM: 100},
		{Success: true, FeeMsat: 60},
	}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull, MaxHops: 2, MaxPPM: 1_000_000}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.True(t, res.Success)
	require.Equal(t, 2, payer.calls)
	require.Equal(t, 1, payer.invoices, "same target amount should reuse the cached invoice across the retry")
}

func TestExecuteGivesUpHintRetryWhenRematerializeFails(t *testing.T) {
	// An updated htlc_max below what the route needs can never satisfy
	// materialize, so the retry never gets a chance to resubmit.
	payer := &fakePayer{outcome: host.Outcome{
		Success: false, FailHop: 0, FailCode: bolt4.AmountAboveMaximum, HtlcMaxHint: 1,
	}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull, MaxHops: 2, MaxPPM: 1_000_000}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.False(t, res.Success)
	require.Equal(t, 1, payer.invoices)
}

func TestExecuteHtlcBoundsHintUpdatesBeliefsAndRetries(t *testing.T) {
	payer := &fakePayer{outcomes: []host.Outcome{
		{Success: false, FailHop: 0, FailCode: bolt4.AmountBelowMinimum, HtlcMinHint: 5000},
		{Success: true, FeeMsat: 10},
	}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull, MaxHops: 2, MaxPPM: 1_000_000}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.True(t, res.Success)
	require.Equal(t, 2, payer.calls)
	min, _ := beliefs.HtlcBounds(1, model.Pull, 1, 1_000_000_000)
	require.EqualValues(t, 5000, min)
}

func TestExecuteInternalFailureNotMarkedUnusable(t *testing.T) {
	payer := &fakePayer{outcome: host.Outcome{
		Success: false, FailHop: 1, FailCode: bolt4.FinalIncorrectCltvExpiry,
	}}
	beliefs := belief.NewStore(time.Hour, belief.DefaultTTLPolicy(), nil)
	st := newTestStats(t)
	exec := NewExecutor(payer, beliefs, st, discardLog())

	job := model.Job{Scid: 2, Direction: model.Pull}
	res := exec.Execute(context.Background(), job, testRoute(), 100_000, time.Second)

	require.False(t, res.Success)
	require.Equal(t, model.Scid(0), res.UnusableScid)
	require.False(t, beliefs.Unusable(2, model.Pull, time.Now()))
}
