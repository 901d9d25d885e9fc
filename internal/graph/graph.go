// Package graph implements C1, the graph & alias cache: spec.md §4.1.
//
// It holds the latest view of public channels (from host gossip) merged
// with privately-known channels, plus a node-id to alias map, and
// publishes it as an immutable snapshot so in-flight workers never see a
// torn view.
package graph

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/model"
)

// scidSides holds the two directions of a channel, indexed by which
// endpoint forwards, keyed by that endpoint's NodeID.
type scidSides struct {
	byFrom map[model.NodeID]*model.DirectedChannel
}

// Snapshot is an immutable view of the channel graph at one point in
// time. Workers hold a reference to one Snapshot for the duration of a
// route search; a concurrent refresh never mutates it.
type Snapshot struct {
	edges   map[model.NodeID][]model.DirectedChannel
	byScid  map[model.Scid]*scidSides
	aliases map[model.NodeID]string

	publicEdgeCount  int
	privateEdgeCount int
}

// DirectedEdgesFrom returns the directed edges leaving node, in no
// particular order.
func (s *Snapshot) DirectedEdgesFrom(node model.NodeID) []model.DirectedChannel {
	return s.edges[node]
}

// EdgeFrom looks up the directed edge of scid whose forwarding side is
// from. ok is false if that direction has never been observed.
func (s *Snapshot) EdgeFrom(scid model.Scid, from model.NodeID) (model.DirectedChannel, bool) {
	sides, ok := s.byScid[scid]
	if !ok {
		return model.DirectedChannel{}, false
	}
	e, ok := sides.byFrom[from]
	if !ok {
		return model.DirectedChannel{}, false
	}
	return *e, true
}

// EdgeTo looks up the directed edge of scid whose far endpoint is to,
// i.e. the edge that delivers funds to "to".
func (s *Snapshot) EdgeTo(scid model.Scid, to model.NodeID) (model.DirectedChannel, bool) {
	sides, ok := s.byScid[scid]
	if !ok {
		return model.DirectedChannel{}, false
	}
	for _, e := range sides.byFrom {
		if e.ToNode == to {
			return *e, true
		}
	}
	return model.DirectedChannel{}, false
}

// BothSides returns whichever directions of scid are known.
func (s *Snapshot) BothSides(scid model.Scid) []model.DirectedChannel {
	sides, ok := s.byScid[scid]
	if !ok {
		return nil
	}
	out := make([]model.DirectedChannel, 0, 2)
	for _, e := range sides.byFrom {
		out = append(out, *e)
	}
	return out
}

// LookupAlias returns the alias for node, or "" if unknown.
func (s *Snapshot) LookupAlias(node model.NodeID) string {
	return s.aliases[node]
}

// CountPublic returns the number of public directed edges (both
// directions counted).
func (s *Snapshot) CountPublic() int { return s.publicEdgeCount }

// CountPrivate returns the number of private directed edges (both
// directions counted).
func (s *Snapshot) CountPrivate() int { return s.privateEdgeCount }

// Closed reports whether scid is absent from the snapshot entirely,
// i.e. the channel has disappeared from the graph.
func (s *Snapshot) Closed(scid model.Scid) bool {
	sides, ok := s.byScid[scid]
	return !ok || len(sides.byFrom) == 0
}

// Builder accumulates edges and aliases for one refresh cycle.
type Builder struct {
	edges   map[model.NodeID][]model.DirectedChannel
	byScid  map[model.Scid]*scidSides
	aliases map[model.NodeID]string
}

func NewBuilder() *Builder {
	return &Builder{
		edges:   make(map[model.NodeID][]model.DirectedChannel),
		byScid:  make(map[model.Scid]*scidSides),
		aliases: make(map[model.NodeID]string),
	}
}

// AddEdge adds one directed channel edge.
func (b *Builder) AddEdge(ch model.DirectedChannel) {
	cp := ch
	b.edges[ch.FromNode] = append(b.edges[ch.FromNode], cp)
	sides, ok := b.byScid[ch.Scid]
	if !ok {
		sides = &scidSides{byFrom: make(map[model.NodeID]*model.DirectedChannel, 2)}
		b.byScid[ch.Scid] = sides
	}
	sides.byFrom[ch.FromNode] = &cp
}

// SetAlias records node's alias.
func (b *Builder) SetAlias(node model.NodeID, alias string) {
	b.aliases[node] = alias
}

// Build finalizes the snapshot, computing public/private edge counts.
func (b *Builder) Build() *Snapshot {
	s := &Snapshot{
		edges:   b.edges,
		byScid:  b.byScid,
		aliases: b.aliases,
	}
	for _, sides := range b.byScid {
		for _, e := range sides.byFrom {
			if e.Private {
				s.privateEdgeCount++
			} else {
				s.publicEdgeCount++
			}
		}
	}
	return s
}

// Cache is the process-wide, atomically-swapped graph cache (spec.md
// §5: "C1 is read-many/write-one via atomic snapshot swap").
type Cache struct {
	current atomic.Pointer[Snapshot]
	log     *logrus.Entry
}

func NewCache(log *logrus.Entry) *Cache {
	c := &Cache{log: log}
	c.current.Store(NewBuilder().Build())
	return c
}

// Current returns the latest snapshot. Safe to call from any goroutine.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Swap installs a newly built snapshot and logs the refresh line spec.md
// §4.1 specifies verbatim.
func (c *Cache) Swap(s *Snapshot) {
	c.current.Store(s)
	c.log.Infof("%d public channels", s.CountPublic())
	c.log.Infof("%d private channels", s.CountPrivate())
}

// RefreshFailed is called when the host RPC fails; spec.md §4.1 requires
// keeping the previous snapshot and surfacing a warning rather than
// exposing a partial snapshot.
func (c *Cache) RefreshFailed(err error) {
	c.log.WithError(err).Warn("graph refresh failed, keeping previous snapshot")
}
