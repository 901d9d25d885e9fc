// Package engine ties every subsystem together into the long-running
// process: it owns C1-C7, runs their background refresh/decay/prune
// tasks, and persists liquidity.json/jobs.json across restarts.
//
// Grounded on the teacher's main() bootstrap (dial lnd, fetch own
// channels, build caches) generalized from a single rebalance session
// into a long-running daemon, and on gocryptotrader's engine package
// shape: one struct owning every subsystem plus a set of background
// goroutines started/stopped together.
package engine

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/belief"
	"github.com/daywalker90/sling/internal/config"
	"github.com/daywalker90/sling/internal/controller"
	"github.com/daywalker90/sling/internal/graph"
	"github.com/daywalker90/sling/internal/host"
	"github.com/daywalker90/sling/internal/jobreg"
	"github.com/daywalker90/sling/internal/model"
	"github.com/daywalker90/sling/internal/pay"
	"github.com/daywalker90/sling/internal/rpcapi"
	"github.com/daywalker90/sling/internal/stats"
)

// Version is overridden at build time via -ldflags and surfaced by
// sling-version.
var Version = "dev"

// Engine owns every subsystem and the background tasks that keep them
// fresh, per spec.md §4.1-§4.3 and §5.
type Engine struct {
	cfg  config.Config
	node host.Node
	log  *logrus.Entry

	Graph      *graph.Cache
	Beliefs    *belief.Store
	Stats      *stats.Store
	Jobs       *jobreg.Registry
	Controller *controller.Manager
	RPC        *rpcapi.Server

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	rpcServer *http.Server
}

// New wires every subsystem together from cfg and a connected host
// node, restoring liquidity.json/jobs.json if present.
func New(cfg config.Config, node host.Node, log *logrus.Entry) (*Engine, error) {
	graphCache := graph.NewCache(log.WithField("component", "graph"))
	beliefs := belief.NewStore(cfg.ResetLiquidity(), belief.DefaultTTLPolicy(), log.WithField("component", "belief"))
	statsStore := stats.NewStore(cfg.DataDir, stats.Config{
		Successes: stats.PrunePolicy{MaxAge: time.Duration(cfg.StatsDeleteSuccessesAge) * time.Second, MaxSize: int(cfg.StatsDeleteSuccessesSize)},
		Failures:  stats.PrunePolicy{MaxAge: time.Duration(cfg.StatsDeleteFailuresAge) * time.Second, MaxSize: int(cfg.StatsDeleteFailuresSize)},
	}, log.WithField("component", "stats"))
	jobs := jobreg.NewRegistry()

	if err := beliefs.LoadFrom(liquidityPath(cfg)); err != nil {
		log.WithError(err).Warn("failed to load liquidity.json, starting with empty beliefs")
	}
	if err := jobs.LoadFrom(jobsPath(cfg), log.WithField("component", "jobreg")); err != nil {
		log.WithError(err).Warn("failed to load jobs.json, starting with empty job set")
	}

	executor := pay.NewExecutor(node.Payer, beliefs, statsStore, log.WithField("component", "pay"))

	localPubkey, err := node.Graph.LocalPubkey(context.Background())
	if err != nil {
		return nil, err
	}

	ctl := controller.NewManager(controller.Deps{
		Graph:            graphCache,
		Beliefs:          beliefs,
		Jobs:             jobs,
		Stats:            statsStore,
		Channels:         node.Channel,
		Executor:         executor,
		Local:            localPubkey,
		MaxHTLCCount:     cfg.MaxHtlcCount,
		CandidatesMinAge: uint32(cfg.CandidatesMinAge),
		TimeoutPay:       cfg.TimeoutPayDuration(),
		Log:              log.WithField("component", "controller"),
	})

	rpc := rpcapi.New(rpcapi.Deps{
		Jobs:                jobs,
		Graph:               graphCache,
		Controller:          ctl,
		Stats:               statsStore,
		Version:             Version,
		DefaultMaxHops:      cfg.MaxHops,
		DefaultParallelJobs: uint16(cfg.ParallelJobs),
	})

	return &Engine{
		cfg:        cfg,
		node:       node,
		log:        log,
		Graph:      graphCache,
		Beliefs:    beliefs,
		Stats:      statsStore,
		Jobs:       jobs,
		Controller: ctl,
		RPC:        rpc,
	}, nil
}

func liquidityPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "liquidity.json")
}

func jobsPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "jobs.json")
}

// Start launches every background task: the graph refresher, peer
// refresher, alias refresher, liquidity decayer, and stats pruner, per
// spec.md §5.
func (e *Engine) Start() error {
	if err := os.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if err := e.refreshGraph(ctx); err != nil {
		e.Graph.RefreshFailed(err)
	}

	e.spawnTicker(ctx, e.cfg.RefreshGraph(), func() { e.refreshGraphLogged(ctx) })
	e.spawnTicker(ctx, e.cfg.RefreshPeers(), func() { e.refreshPeersLogged(ctx) })
	// The alias map is baked into each immutable graph.Snapshot alongside
	// its edges (graph.Builder.SetAlias at Build time), so there is no
	// cheaper way to refresh aliases alone; the alias refresher simply
	// re-runs the same full rebuild on its own, typically slower, cadence.
	e.spawnTicker(ctx, e.cfg.RefreshAliasmap(), func() { e.refreshGraphLogged(ctx) })
	e.spawnTicker(ctx, time.Minute, func() { e.Beliefs.DecayTick(time.Now()) })
	e.spawnTicker(ctx, time.Minute, e.Stats.PruneAll)
	e.spawnTicker(ctx, time.Minute, e.persistSnapshotsLogged)

	if e.cfg.RPCListen != "" {
		e.rpcServer = &http.Server{Addr: e.cfg.RPCListen, Handler: e.RPC.HTTPHandler()}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.log.WithError(err).Error("control RPC listener stopped")
			}
		}()
	}

	return nil
}

// Stop cancels every background task, stops every running job
// controller, and persists final state.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.rpcServer != nil {
		_ = e.rpcServer.Close()
	}
	e.Controller.Stop(0, true)
	e.wg.Wait()
	e.persistSnapshotsLogged()
	e.Stats.Close()
}

func (e *Engine) spawnTicker(ctx context.Context, d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}

func (e *Engine) persistSnapshotsLogged() {
	if err := e.Beliefs.SaveTo(liquidityPath(e.cfg)); err != nil {
		e.log.WithError(err).Warn("failed to persist liquidity.json")
	}
	if err := e.Jobs.SaveTo(jobsPath(e.cfg)); err != nil {
		e.log.WithError(err).Warn("failed to persist jobs.json")
	}
}

// refreshGraph pulls the public graph and private channels, resolves
// aliases for every node that shows up, and swaps in a new snapshot,
// per spec.md §4.1.
func (e *Engine) refreshGraph(ctx context.Context) error {
	public, err := e.node.Graph.DescribeGraph(ctx)
	if err != nil {
		return err
	}
	private, err := e.node.Graph.ListPrivateChannels(ctx)
	if err != nil {
		return err
	}

	b := graph.NewBuilder()
	seen := make(map[model.NodeID]struct{}, len(public))

	for _, edge := range public {
		b.AddEdge(edge)
		e.resolveAliasOnce(ctx, b, edge.FromNode, seen)
		e.resolveAliasOnce(ctx, b, edge.ToNode, seen)
	}
	for _, edge := range private {
		b.AddEdge(edge)
		e.resolveAliasOnce(ctx, b, edge.FromNode, seen)
		e.resolveAliasOnce(ctx, b, edge.ToNode, seen)
	}

	e.Graph.Swap(b.Build())

	removed := e.Jobs.ReconcileAgainst(e.Graph.Current())
	for _, scid := range removed {
		e.log.WithField("scid", scid).Warn("job's channel disappeared from the graph, removing")
	}
	return nil
}

// resolveAliasOnce resolves node's alias at most once per refresh
// cycle; a failed lookup just leaves the node unlabeled.
func (e *Engine) resolveAliasOnce(ctx context.Context, b *graph.Builder, node model.NodeID, seen map[model.NodeID]struct{}) {
	if _, ok := seen[node]; ok {
		return
	}
	seen[node] = struct{}{}
	if alias, err := e.node.Graph.NodeAlias(ctx, node); err == nil && alias != "" {
		b.SetAlias(node, alias)
	}
}

func (e *Engine) refreshGraphLogged(ctx context.Context) {
	if err := e.refreshGraph(ctx); err != nil {
		e.Graph.RefreshFailed(err)
	}
}

// refreshPeersLogged refreshes the engine's view of its own channels,
// used by the controller's already_at_target check; the live channel
// list is read on demand from host.ChannelSource rather than cached
// here, so this task exists mainly to surface connectivity problems
// early via the warning log.
func (e *Engine) refreshPeersLogged(ctx context.Context) {
	if _, err := e.node.Channel.ListOwnChannels(ctx); err != nil {
		e.log.WithError(err).Warn("failed to refresh own channel list")
	}
}
