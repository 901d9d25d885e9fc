package graph

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/daywalker90/sling/internal/model"
)

func TestBuilderCountsBothDirections(t *testing.T) {
	b := NewBuilder()
	b.AddEdge(model.DirectedChannel{
		Scid: 1, FromNode: "a", ToNode: "b",
		CapacityMsat: 1000, HtlcMaxMsat: 1000, Active: true,
	})
	b.AddEdge(model.DirectedChannel{
		Scid: 1, FromNode: "b", ToNode: "a",
		CapacityMsat: 1000, HtlcMaxMsat: 1000, Active: true, Private: true,
	})
	s := b.Build()
	require.Equal(t, 1, s.CountPublic())
	require.Equal(t, 1, s.CountPrivate())

	e, ok := s.EdgeFrom(1, "a")
	require.True(t, ok)
	require.Equal(t, model.NodeID("b"), e.ToNode)

	e2, ok := s.EdgeTo(1, "a")
	require.True(t, ok)
	require.Equal(t, model.NodeID("b"), e2.FromNode)

	require.False(t, s.Closed(1))
	require.True(t, s.Closed(2))
}

func TestCacheSwapKeepsPreviousOnFailure(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	c := NewCache(log)
	first := c.Current()

	b := NewBuilder()
	b.AddEdge(model.DirectedChannel{Scid: 5, FromNode: "a", ToNode: "b", CapacityMsat: 10, HtlcMaxMsat: 10, Active: true})
	c.Swap(b.Build())
	require.NotSame(t, first, c.Current())

	before := c.Current()
	c.RefreshFailed(nil)
	require.Same(t, before, c.Current())
}

func TestAliasLookup(t *testing.T) {
	b := NewBuilder()
	b.SetAlias("a", "alice")
	s := b.Build()
	require.Equal(t, "alice", s.LookupAlias("a"))
	require.Equal(t, "", s.LookupAlias("missing"))
}
