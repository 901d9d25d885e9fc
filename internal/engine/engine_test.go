package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/daywalker90/sling/internal/config"
	"github.com/daywalker90/sling/internal/host"
	"github.com/daywalker90/sling/internal/model"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeGraph struct {
	edges    []model.DirectedChannel
	failNext bool
}

func (f *fakeGraph) DescribeGraph(ctx context.Context) ([]model.DirectedChannel, error) {
	if f.failNext {
		f.failNext = false
		return nil, context.DeadlineExceeded
	}
	return f.edges, nil
}
func (f *fakeGraph) ListPrivateChannels(ctx context.Context) ([]model.DirectedChannel, error) {
	return nil, nil
}
func (f *fakeGraph) LocalPubkey(ctx context.Context) (model.NodeID, error) { return "L1", nil }
func (f *fakeGraph) NodeAlias(ctx context.Context, node model.NodeID) (string, error) {
	return "alias-" + string(node), nil
}
func (f *fakeGraph) CurrentHeight(ctx context.Context) (uint32, error) { return 900_000, nil }

type fakeChannels struct{}

func (fakeChannels) ListOwnChannels(ctx context.Context) ([]host.ChannelInfo, error) {
	return []host.ChannelInfo{{Scid: 1, CapacityMsat: 1_000_000, LocalBalanceMsat: 500_000, Active: true}}, nil
}

type fakePayer struct{}

func (fakePayer) CreateSelfInvoice(ctx context.Context, amt model.Msat, label string, expiry time.Duration) (host.Invoice, error) {
	return host.Invoice{}, nil
}
func (fakePayer) SendToRoute(ctx context.Context, r []model.DirectedChannel, inv host.Invoice) (host.Outcome, error) {
	return host.Outcome{Success: true}, nil
}
func (fakePayer) CancelInvoice(ctx context.Context, inv host.Invoice) error { return nil }

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.RefreshGraphInterval = 3600
	cfg.RefreshPeersInterval = 3600
	cfg.RefreshAliasmapInterval = 3600
	cfg.RPCListen = ""
	return cfg
}

func TestNewLoadsEmptyPersistedState(t *testing.T) {
	cfg := testConfig(t)
	fg := &fakeGraph{edges: []model.DirectedChannel{
		{Scid: 1, FromNode: "L1", ToNode: "L2", CapacityMsat: 1_000_000, HtlcMinMsat: 1, HtlcMaxMsat: 1_000_000, Active: true},
	}}
	node := host.Node{Graph: fg, Channel: fakeChannels{}, Payer: fakePayer{}}

	eng, err := New(cfg, node, discardLog())
	require.NoError(t, err)
	require.NotNil(t, eng.Graph)
	require.NotNil(t, eng.RPC)
	require.Equal(t, 0, eng.Graph.Current().CountPublic())
}

func TestStartBuildsInitialGraphSnapshot(t *testing.T) {
	cfg := testConfig(t)
	fg := &fakeGraph{edges: []model.DirectedChannel{
		{Scid: 1, FromNode: "L1", ToNode: "L2", CapacityMsat: 1_000_000, HtlcMinMsat: 1, HtlcMaxMsat: 1_000_000, Active: true},
	}}
	node := host.Node{Graph: fg, Channel: fakeChannels{}, Payer: fakePayer{}}

	eng, err := New(cfg, node, discardLog())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	snap := eng.Graph.Current()
	require.Equal(t, 1, snap.CountPublic())
	require.Equal(t, "alias-L2", snap.LookupAlias("L2"))
}

func TestStartSurvivesInitialGraphFailure(t *testing.T) {
	cfg := testConfig(t)
	fg := &fakeGraph{failNext: true}
	node := host.Node{Graph: fg, Channel: fakeChannels{}, Payer: fakePayer{}}

	eng, err := New(cfg, node, discardLog())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	require.Equal(t, 0, eng.Graph.Current().CountPublic())
}

func TestStopPersistsLiquidityAndJobs(t *testing.T) {
	cfg := testConfig(t)
	fg := &fakeGraph{}
	node := host.Node{Graph: fg, Channel: fakeChannels{}, Payer: fakePayer{}}

	eng, err := New(cfg, node, discardLog())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	eng.Beliefs.ObserveSuccess(1, model.Pull, 1000, 1_000_000)
	eng.Stop()

	require.FileExists(t, liquidityPath(cfg))
	require.FileExists(t, jobsPath(cfg))
}
