// Package controller implements C7, the per-job controller: spec.md
// §4.7. It runs parallel_jobs workers per active job, each repeating
// snapshot → already_at_target check → route search → payment, sharing
// one exclude-set per job so workers don't fight over the same route.
//
// Grounded on the teacher's tryRapidRebalance loop in main.go, which
// re-picks routes and re-pays in a single goroutine; generalized here
// into N goroutines per job with cooperative stop, matching the
// start/stop lifecycle shape of gocryptotrader's engine subsystems.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/belief"
	"github.com/daywalker90/sling/internal/graph"
	"github.com/daywalker90/sling/internal/host"
	"github.com/daywalker90/sling/internal/jobreg"
	"github.com/daywalker90/sling/internal/model"
	"github.com/daywalker90/sling/internal/pay"
	"github.com/daywalker90/sling/internal/route"
	"github.com/daywalker90/sling/internal/stats"
)

// defaultBackOff is how long an idle worker sleeps after "already
// balanced" or "no route found" before trying again, when Deps.BackOff
// is unset.
const defaultBackOff = 30 * time.Second

// htlcPollInterval is how often a worker blocked on a full local
// channel's HTLC slots rechecks, per spec.md §5's backpressure
// requirement: "workers block until slots free".
const htlcPollInterval = 500 * time.Millisecond

// Deps bundles the shared subsystems a Manager needs, keeping the
// controller itself free of direct host RPC knowledge.
type Deps struct {
	Graph    *graph.Cache
	Beliefs  *belief.Store
	Jobs     *jobreg.Registry
	Stats    *stats.Store
	Channels host.ChannelSource
	Executor *pay.Executor
	Local    model.NodeID

	MaxHTLCCount     int
	CandidatesMinAge uint32
	TimeoutPay       time.Duration
	BackOff          time.Duration
	Log              *logrus.Entry
}

func (d *Deps) backOff() time.Duration {
	if d.BackOff > 0 {
		return d.BackOff
	}
	return defaultBackOff
}

// job is the controller's live state for one active job: its shared
// exclude-set, cancellation, and worker wait group.
type job struct {
	scid   model.Scid
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	exclude map[model.Scid]struct{}
}

func (j *job) addExclude(scid model.Scid) {
	j.mu.Lock()
	j.exclude[scid] = struct{}{}
	j.mu.Unlock()
}

func (j *job) removeExclude(scid model.Scid) {
	j.mu.Lock()
	delete(j.exclude, scid)
	j.mu.Unlock()
}

func (j *job) excludeSnapshot() map[model.Scid]struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[model.Scid]struct{}, len(j.exclude))
	for k := range j.exclude {
		out[k] = struct{}{}
	}
	return out
}

// Manager owns the set of currently running job controllers.
type Manager struct {
	deps Deps

	mu   sync.Mutex
	jobs map[model.Scid]*job

	// htlcMu/htlcCount track in-flight HTLCs per local channel scid,
	// shared across every job's workers (spec.md §4.5 constraint 5):
	// two jobs touching the same local channel still share one cap.
	htlcMu    sync.Mutex
	htlcCount map[model.Scid]int
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:      deps,
		jobs:      make(map[model.Scid]*job),
		htlcCount: make(map[model.Scid]int),
	}
}

// htlcSnapshot returns a copy of the current in-flight HTLC count per
// local channel scid, consulted by route.Search so it can skip an edge
// already at its cap instead of only finding out after a blocked
// acquire.
func (m *Manager) htlcSnapshot() map[model.Scid]int {
	m.htlcMu.Lock()
	defer m.htlcMu.Unlock()
	out := make(map[model.Scid]int, len(m.htlcCount))
	for k, v := range m.htlcCount {
		out[k] = v
	}
	return out
}

// localChannelScids returns the distinct scids in r's hops that touch
// our own node, i.e. the local channels this payment attempt holds an
// HTLC slot on for its duration.
func localChannelScids(r route.Route, local model.NodeID) []model.Scid {
	seen := make(map[model.Scid]struct{}, 2)
	var out []model.Scid
	for _, h := range r.Hops {
		if h.Edge.FromNode != local && h.Edge.ToNode != local {
			continue
		}
		if _, ok := seen[h.Edge.Scid]; ok {
			continue
		}
		seen[h.Edge.Scid] = struct{}{}
		out = append(out, h.Edge.Scid)
	}
	return out
}

// acquireHTLCSlots blocks until every scid in scids has a free slot
// under max, then claims one on each, per spec.md §5: "workers block
// until slots free" once local in-flight HTLCs reach max_htlc_count.
// max<=0 means unlimited. Returns false if ctx ends first.
func (m *Manager) acquireHTLCSlots(ctx context.Context, scids []model.Scid, max int) bool {
	if max <= 0 {
		return true
	}
	for {
		m.htlcMu.Lock()
		ready := true
		for _, s := range scids {
			if m.htlcCount[s] >= max {
				ready = false
				break
			}
		}
		if ready {
			for _, s := range scids {
				m.htlcCount[s]++
			}
			m.htlcMu.Unlock()
			return true
		}
		m.htlcMu.Unlock()

		if sleepOrDone(ctx, htlcPollInterval) {
			return false
		}
	}
}

// releaseHTLCSlots frees the slots a prior acquireHTLCSlots claimed.
func (m *Manager) releaseHTLCSlots(scids []model.Scid) {
	m.htlcMu.Lock()
	defer m.htlcMu.Unlock()
	for _, s := range scids {
		if m.htlcCount[s] > 0 {
			m.htlcCount[s]--
		}
	}
}

// Go starts a controller for scid if not already running. When all is
// true, scid is ignored and every job in the registry that is not
// already running is started, per the sling-go `[]` form.
func (m *Manager) Go(scid model.Scid, all bool) {
	if all {
		for _, j := range m.deps.Jobs.List() {
			m.start(j.Scid)
		}
		return
	}
	m.start(scid)
}

func (m *Manager) start(scid model.Scid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.jobs[scid]; running {
		return
	}
	cfg, ok := m.deps.Jobs.Get(scid)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{scid: scid, cancel: cancel, exclude: make(map[model.Scid]struct{})}
	m.jobs[scid] = j
	m.deps.Jobs.SetRunState(scid, model.Running)

	n := int(cfg.ParallelJobs)
	if n < 1 {
		n = 1
	}
	statuses := make([]string, n)
	var statusMu sync.Mutex
	setStatus := func(worker int, st model.WorkerState) {
		statusMu.Lock()
		statuses[worker] = fmt.Sprintf("%d:%s", worker+1, st)
		snap := append([]string(nil), statuses...)
		statusMu.Unlock()
		m.deps.Stats.SetLiveStatus(scid, snap)
	}

	for w := 0; w < n; w++ {
		j.wg.Add(1)
		go m.runWorker(ctx, j, w, setStatus)
	}

	go func() {
		j.wg.Wait()
		m.mu.Lock()
		delete(m.jobs, scid)
		m.mu.Unlock()
		m.deps.Stats.ClearLiveStatus(scid)
	}()
}

// Stop transitions scid's (or every) running job to Stopping; workers
// exit at their next loop boundary, per spec.md §4.7.
func (m *Manager) Stop(scid model.Scid, all bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if all {
		for s, j := range m.jobs {
			m.deps.Jobs.SetRunState(s, model.Stopping)
			j.cancel()
			m.deps.Log.Info("Stopping job...")
		}
		return
	}
	if j, ok := m.jobs[scid]; ok {
		m.deps.Jobs.SetRunState(scid, model.Stopping)
		j.cancel()
		m.deps.Log.Info("Stopping job...")
	}
}

func (m *Manager) runWorker(ctx context.Context, j *job, worker int, setStatus func(int, model.WorkerState)) {
	defer j.wg.Done()
	log := m.deps.Log.WithField("scid", j.scid).WithField("worker", worker+1)

	for {
		select {
		case <-ctx.Done():
			m.deps.Jobs.SetRunState(j.scid, model.Stopped)
			return
		default:
		}

		cfg, ok := m.deps.Jobs.Get(j.scid)
		if !ok {
			return
		}

		snap := m.deps.Graph.Current()
		if snap.Closed(cfg.Scid) {
			log.Warn("target channel no longer in graph, stopping job")
			m.deps.Jobs.Delete(j.scid)
			m.deps.Jobs.SetRunState(j.scid, model.Stopped)
			return
		}

		balanced, err := m.alreadyAtTarget(ctx, cfg)
		if err != nil {
			log.WithError(err).Warn("failed to read channel balance")
			setStatus(worker, model.WorkerError)
			if sleepOrDone(ctx, m.deps.backOff()) {
				return
			}
			continue
		}
		if balanced {
			setStatus(worker, model.Balanced)
			log.Info("already balanced. Taking a break")
			if sleepOrDone(ctx, m.deps.backOff()) {
				return
			}
			continue
		}

		setStatus(worker, model.SearchingRoute)
		excludeSet := m.jobExcludeUnion(j, cfg)
		logExcludeSet(log, cfg.Direction, excludeSet)

		r, err := route.Search(cfg, snap, m.deps.Beliefs, route.Params{
			Local:            m.deps.Local,
			Amount:           cfg.AmountMsat,
			MaxHTLCCount:     m.deps.MaxHTLCCount,
			CandidatesMinAge: m.deps.CandidatesMinAge,
			Exclude:          excludeSet,
			HTLCInFlight:     m.htlcSnapshot(),
		})
		if err != nil {
			setStatus(worker, model.NoCandidates)
			if sleepOrDone(ctx, m.deps.backOff()) {
				return
			}
			continue
		}

		localScids := localChannelScids(r, m.deps.Local)
		if !m.acquireHTLCSlots(ctx, localScids, m.deps.MaxHTLCCount) {
			return
		}

		for _, s := range r.Scids() {
			j.addExclude(s)
		}
		setStatus(worker, model.Paying)
		res := m.deps.Executor.Execute(ctx, cfg, r, cfg.AmountMsat, m.deps.TimeoutPay)
		for _, s := range r.Scids() {
			j.removeExclude(s)
		}
		m.releaseHTLCSlots(localScids)

		if res.Success && cfg.Kind == model.Once {
			done := m.deps.Jobs.UpdateDelivered(j.scid, res.Delivered)
			if done {
				log.Info("Spawned once-job exited")
				m.deps.Jobs.Delete(j.scid)
				m.deps.Jobs.SetRunState(j.scid, model.Stopped)
				return
			}
		}

		setStatus(worker, model.Idle)
	}
}

// jobExcludeUnion merges the registry-wide exclude_pull_chans /
// exclude_push_chans (spec.md §4.5) with this job's own in-flight
// exclude-set shared across its parallel workers (spec.md §4.7).
func (m *Manager) jobExcludeUnion(j *job, cfg model.Job) map[model.Scid]struct{} {
	var base map[model.Scid]struct{}
	if cfg.Direction == model.Pull {
		base = m.deps.Jobs.ExcludePullChans(j.scid)
	} else {
		base = m.deps.Jobs.ExcludePushChans(j.scid)
	}
	for k, v := range j.excludeSnapshot() {
		base[k] = v
	}
	return base
}

// alreadyAtTarget implements spec.md §4.7's termination check.
func (m *Manager) alreadyAtTarget(ctx context.Context, cfg model.Job) (bool, error) {
	if cfg.Kind == model.Once {
		return cfg.DeliveredMsat >= cfg.TotalAmountMsat, nil
	}

	chans, err := m.deps.Channels.ListOwnChannels(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range chans {
		if c.Scid != cfg.Scid {
			continue
		}
		ratio := float64(c.LocalBalanceMsat) / float64(c.CapacityMsat)
		if cfg.Direction == model.Pull {
			return ratio >= cfg.TargetRatio, nil
		}
		return ratio <= 1-cfg.TargetRatio, nil
	}
	return false, fmt.Errorf("target channel %s not found among own channels", cfg.Scid)
}

// logExcludeSet emits the literal "exclude_pull_chans: <csv>" /
// "exclude_push_chans: <csv>" line spec.md §4.5 requires on each
// search iteration.
func logExcludeSet(log *logrus.Entry, dir model.Direction, excl map[model.Scid]struct{}) {
	name := "exclude_pull_chans"
	if dir == model.Push {
		name = "exclude_push_chans"
	}
	csv := ""
	for s := range excl {
		if csv != "" {
			csv += ","
		}
		csv += s.String()
	}
	log.Debugf("%s: %s", name, csv)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
