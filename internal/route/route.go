// Package route implements C5, circular route search: spec.md §4.5.
//
// Grounded on the teacher's getRoutes/calcFeeMsat in routes.go — the
// teacher delegates route-finding entirely to the host's QueryRoutes
// with a computed fee limit and a fixed last hop; this package
// generalizes that into an in-process constrained shortest-path search
// over the internal/graph snapshot, since the spec requires searching
// a graph annotated with our own liquidity beliefs rather than asking
// the host to do it.
package route

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/daywalker90/sling/internal/belief"
	"github.com/daywalker90/sling/internal/graph"
	"github.com/daywalker90/sling/internal/model"
)

// penaltyWeight scales the "prefer headroom" term added to a hop's cost.
// The spec fixes the term's shape but not its weight (an Open Question,
// spec.md §9); this value is a tunable heuristic constant.
const penaltyWeight = 1000.0

// ErrNoRoute is returned when no route satisfies the constraints. It is
// a valid outcome per spec.md §4.5, not an error condition the caller
// should log as a failure.
var ErrNoRoute = fmt.Errorf("no route")

// Params bundles the search inputs beyond the job itself.
type Params struct {
	Local            model.NodeID
	Amount           model.Msat
	MaxHTLCCount     int
	CandidatesMinAge uint32 // blocks
	CurrentHeight    uint32
	// Exclude is the union of the job's own exclude set (shared across
	// parallel workers, spec.md §4.7) and the registry's
	// exclude_pull_chans/exclude_push_chans (spec.md §4.5).
	Exclude map[model.Scid]struct{}
	// HTLCInFlight is the controller's current count of in-flight HTLCs
	// per local channel scid. An edge touching our own node that is
	// already at MaxHTLCCount is skipped, per spec.md §4.5 constraint 5
	// and §5's backpressure requirement.
	HTLCInFlight map[model.Scid]int
}

// Hop is one leg of a candidate route together with the amount arriving
// at it (downstream amount plus accumulated downstream fees), per
// spec.md §4.5 #3.
type Hop struct {
	Edge      model.DirectedChannel
	AmtAtHop  model.Msat
}

// Route is a full ordered candidate circular route.
type Route struct {
	Hops    []Hop
	TotalFee model.Msat
}

// Scids returns the route's scids in order, the shape C3/C6 persist.
func (r Route) Scids() []model.Scid {
	out := make([]model.Scid, len(r.Hops))
	for i, h := range r.Hops {
		out[i] = h.Edge.Scid
	}
	return out
}

type searchState struct {
	node model.NodeID
	hops int
}

type pqItem struct {
	state searchState
	cost  float64
	cltv  int
	path  []model.DirectedChannel
	index int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].cost != pq[j].cost {
		return pq[i].cost < pq[j].cost
	}
	if len(pq[i].path) != len(pq[j].path) {
		return len(pq[i].path) < len(pq[j].path)
	}
	return pq[i].cltv < pq[j].cltv
}
func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i]; pq[i].index, pq[j].index = i, j }
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// edgeAllowed applies the per-edge filters of spec.md §4.5 #2 that don't
// depend on amount: active, except_channels, except_peers,
// candidates-min-age, and the caller-supplied exclude set. ownSideOnly,
// when true, additionally requires the edge be in the job's explicit
// candidate set (the "own-side" slot).
func edgeAllowed(e model.DirectedChannel, job model.Job, p Params, ownSideOnly bool) bool {
	if !e.Active {
		return false
	}
	if _, excl := p.Exclude[e.Scid]; excl {
		return false
	}
	if _, excl := job.ExceptChannels[e.Scid]; excl {
		return false
	}
	if _, excl := job.ExceptPeers[e.ToNode]; excl {
		return false
	}
	if ownSideOnly && !job.CandidatesIsAll && job.Candidates != nil {
		if _, ok := job.Candidates[e.Scid]; !ok {
			return false
		}
	}
	if p.CandidatesMinAge > 0 && e.AnnouncedHeight > 0 {
		if p.CurrentHeight < e.AnnouncedHeight ||
			p.CurrentHeight-e.AnnouncedHeight < p.CandidatesMinAge {
			return false
		}
	}
	if p.MaxHTLCCount > 0 && (e.FromNode == p.Local || e.ToNode == p.Local) {
		if p.HTLCInFlight[e.Scid] >= p.MaxHTLCCount {
			return false
		}
	}
	return true
}

// Search runs the bounded-hop constrained shortest-path search of
// spec.md §4.5 and returns the best route not yet attempted this
// iteration (callers grow p.Exclude across calls within one job
// iteration to get successive candidates, approximating Yen's
// algorithm by excluding previously returned edges rather than
// maintaining full path-deviation state).
func Search(job model.Job, snap *graph.Snapshot, beliefs *belief.Store, p Params) (Route, error) {
	if job.MaxHops < 2 {
		return Route{}, fmt.Errorf("max_hops must be >= 2")
	}

	target, ok := resolveTargetEdge(snap, job.Scid, p.Local, job.Direction)
	if !ok {
		return Route{}, ErrNoRoute
	}

	// For a pull, the search runs forward from our own node to the
	// target's upstream peer, through own-side local channels first;
	// for a push, the own-side local channel is the first hop (the
	// target itself, which must itself satisfy the out_ppm/depletion
	// gate), and we search from the target's peer to our own inbound
	// peer.
	var dest model.NodeID
	var firstHops []model.DirectedChannel
	if job.Direction == model.Pull {
		dest = target.FromNode
		for _, e := range snap.DirectedEdgesFrom(p.Local) {
			if e.Scid == job.Scid {
				continue
			}
			if !edgeAllowed(e, job, p, true) {
				continue
			}
			if job.OutPPM > 0 && e.FeePPM < job.OutPPM {
				continue
			}
			if sourceSideDepletes(e, p.Amount, beliefs, job) {
				continue
			}
			firstHops = append(firstHops, e)
		}
	} else {
		dest = p.Local
		if job.OutPPM > 0 && target.FeePPM > job.OutPPM {
			return Route{}, ErrNoRoute
		}
		if sourceSideDepletes(target, p.Amount, beliefs, job) {
			return Route{}, ErrNoRoute
		}
		firstHops = []model.DirectedChannel{target}
	}
	if len(firstHops) == 0 {
		return Route{}, ErrNoRoute
	}

	midBudget := job.MaxHops - 2
	if job.Direction == model.Push {
		midBudget = job.MaxHops - 1
	}

	best := Route{}
	found := false
	for _, first := range firstHops {
		mid, err := dijkstra(snap, beliefs, job, p, first.ToNode, dest, midBudget, job.Direction)
		if err != nil {
			continue
		}
		var hops []model.DirectedChannel
		if job.Direction == model.Pull {
			hops = append(hops, first)
			hops = append(hops, mid...)
			hops = append(hops, target)
		} else {
			// first is target itself; dijkstra already routes mid all
			// the way to p.Local (dest), so the inbound leg is mid's
			// last edge — no separate lookup needed.
			hops = append(hops, first)
			hops = append(hops, mid...)
		}
		r, ok := materialize(hops, job, p.Amount, beliefs)
		if !ok {
			continue
		}
		if !found || routeLess(r, best) {
			best = r
			found = true
		}
	}
	if !found {
		return Route{}, ErrNoRoute
	}
	return best, nil
}

func routeLess(a, b Route) bool {
	if len(a.Hops) != len(b.Hops) {
		return len(a.Hops) < len(b.Hops)
	}
	var cltvA, cltvB int
	for _, h := range a.Hops {
		cltvA += int(h.Edge.CltvDelta)
	}
	for _, h := range b.Hops {
		cltvB += int(h.Edge.CltvDelta)
	}
	if cltvA != cltvB {
		return cltvA < cltvB
	}
	return a.TotalFee < b.TotalFee
}

// sourceSideDepletes applies the source-side depletion gate of spec.md
// §4.5 #8, using the belief store's upper bound as a stand-in for the
// local channel's spendable balance (the graph snapshot carries
// capacity, not a live balance). No check against the host's live
// balance is made before paying.
func sourceSideDepletes(e model.DirectedChannel, amount model.Msat, beliefs *belief.Store, job model.Job) bool {
	gate := job.DepleteUpToPct * float64(e.CapacityMsat)
	if float64(job.DepleteUpToAmount) > gate {
		gate = float64(job.DepleteUpToAmount)
	}
	if gate <= 0 {
		return false
	}
	_, spendableHi := beliefs.Bounds(e.Scid, model.Pull, e.CapacityMsat)
	var spendableAfter model.Msat
	if spendableHi > amount {
		spendableAfter = spendableHi - amount
	}
	return float64(spendableAfter) < gate
}

// resolveTargetEdge returns the target's directed edge in the direction
// the job requires: incoming (to us) for pull, outgoing (from us) for
// push.
func resolveTargetEdge(snap *graph.Snapshot, scid model.Scid, local model.NodeID, dir model.Direction) (model.DirectedChannel, bool) {
	if dir == model.Pull {
		return snap.EdgeTo(scid, local)
	}
	return snap.EdgeFrom(scid, local)
}

// dijkstra finds the lowest-cost path from source to dest using at most
// maxHops edges, honoring edge filters and the liquidity-unusable TTL.
// Cost ignores exact amount-at-edge fee growth (approximated with
// p.Amount) since validating exact amounts is done afterward in
// materialize; this mirrors how LN routers commonly split "pathfinding
// cost" from "final amount validation".
func dijkstra(snap *graph.Snapshot, beliefs *belief.Store, job model.Job, p Params, source, dest model.NodeID, maxHops int, dir model.Direction) ([]model.DirectedChannel, error) {
	if source == dest {
		return nil, nil
	}
	if maxHops < 0 {
		return nil, ErrNoRoute
	}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{state: searchState{node: source, hops: 0}, cost: 0, path: nil})
	visited := map[searchState]float64{}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		if c, ok := visited[item.state]; ok && c <= item.cost {
			continue
		}
		visited[item.state] = item.cost

		if item.state.node == dest {
			return item.path, nil
		}
		if item.state.hops >= maxHops {
			continue
		}
		for _, e := range snap.DirectedEdgesFrom(item.state.node) {
			if !edgeAllowed(e, job, p, false) {
				continue
			}
			if beliefs.Unusable(e.Scid, dir, nowFunc()) {
				continue
			}
			lo, hi := beliefs.Bounds(e.Scid, dir, e.CapacityMsat)
			_ = lo
			if p.Amount > hi {
				continue
			}
			htlcMin, htlcMax := beliefs.HtlcBounds(e.Scid, dir, e.HtlcMinMsat, e.HtlcMaxMsat)
			if p.Amount < htlcMin || p.Amount > htlcMax {
				continue
			}
			fee := float64(e.Fee(p.Amount))
			headroom := 1.0
			if hi > 0 {
				headroom = 1 - float64(p.Amount)/float64(hi)
				if headroom < 0 {
					headroom = 0
				}
			}
			cost := fee + penaltyWeight*headroom
			newPath := make([]model.DirectedChannel, len(item.path)+1)
			copy(newPath, item.path)
			newPath[len(item.path)] = e
			heap.Push(pq, &pqItem{
				state: searchState{node: e.ToNode, hops: item.state.hops + 1},
				cost:  item.cost + cost,
				path:  newPath,
			})
		}
	}
	return nil, ErrNoRoute
}

// materialize computes amt_at_e for each hop backward from the target
// and validates every invariant of spec.md §4.5: htlc bounds, liquidity
// upper bound, total hop count, and fee budget. Htlc bounds are read
// through beliefs.HtlcBounds so a host-reported hint (spec.md §4.6
// amount_below_minimum/amount_above_maximum) overrides the gossiped
// edge default.
func materialize(hops []model.DirectedChannel, job model.Job, amt model.Msat, beliefs *belief.Store) (Route, bool) {
	if len(hops) < 2 || len(hops) > job.MaxHops {
		return Route{}, false
	}
	amts := make([]model.Msat, len(hops))
	target := amt
	for i := len(hops) - 1; i >= 0; i-- {
		amts[i] = amt
		amt += hops[i].Fee(amt)
	}
	totalFee := amts[0] - target

	budget := model.Msat(uint64(target) * uint64(job.MaxPPM) / 1_000_000)
	if totalFee > budget {
		return Route{}, false
	}

	out := Route{Hops: make([]Hop, len(hops)), TotalFee: totalFee}
	for i, e := range hops {
		htlcMin, htlcMax := beliefs.HtlcBounds(e.Scid, job.Direction, e.HtlcMinMsat, e.HtlcMaxMsat)
		if amts[i] < htlcMin || amts[i] > htlcMax {
			return Route{}, false
		}
		out.Hops[i] = Hop{Edge: e, AmtAtHop: amts[i]}
	}
	return out, true
}

// Rematerialize recomputes a route's per-hop amounts after the host
// reports an updated policy for one hop, per spec.md §4.6's
// fee_insufficient/incorrect_cltv_expiry/expiry_too_soon and
// amount_below_minimum/amount_above_maximum handling: "recompute amounts
// with host's updated hints, retry immediately with same route if
// possible." It reuses materialize's invariant checks, so a hint that
// can no longer satisfy max_ppm or htlc bounds correctly fails the retry
// rather than resending a route that will only fail again.
func Rematerialize(r Route, job model.Job, amt model.Msat, beliefs *belief.Store, hopIdx int, updated model.DirectedChannel) (Route, bool) {
	if hopIdx < 0 || hopIdx >= len(r.Hops) {
		return Route{}, false
	}
	hops := make([]model.DirectedChannel, len(r.Hops))
	for i, h := range r.Hops {
		hops[i] = h.Edge
	}
	hops[hopIdx] = updated
	return materialize(hops, job, amt, beliefs)
}

// nowFunc is indirected so tests can substitute a fixed clock.
var nowFunc = time.Now
