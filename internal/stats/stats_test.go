package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daywalker90/sling/internal/model"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	dir := t.TempDir()
	s := NewStore(dir, cfg, nil)
	t.Cleanup(s.Close)
	return s
}

func TestAppendAndSummary(t *testing.T) {
	s := newTestStore(t, Config{})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: time.Now().Unix(), Kind: model.Success, AmountMsat: 5000})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: time.Now().Unix(), Kind: model.Failure, AmountMsat: 2000})

	sum := s.Summary([]model.Scid{1})
	require.Equal(t, 1, sum[1].SuccessCount)
	require.Equal(t, 1, sum[1].FailureCount)
	require.EqualValues(t, 5, sum[1].SuccessAmountSats)
}

func TestPerChannelTop5Partners(t *testing.T) {
	s := newTestStore(t, Config{})
	now := time.Now().Unix()
	s.Append(model.StatsRecord{Scid: 1, Timestamp: now, Kind: model.Success, AmountMsat: 10000, Route: []model.Scid{2, 9}})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: now + 1, Kind: model.Success, AmountMsat: 20000, Route: []model.Scid{3, 9}})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: now + 2, Kind: model.Success, AmountMsat: 5000, Route: []model.Scid{2, 9}})

	succ, fail := s.PerChannel(1)
	require.Equal(t, 3, succ.Count)
	require.Equal(t, 0, fail.Count)
	require.Len(t, succ.Top5Partners, 2)
	require.Equal(t, model.Scid(3), succ.Top5Partners[0].PartnerScid)
	require.EqualValues(t, 15, succ.Top5Partners[1].TotalSats)
	require.Equal(t, model.Scid(2), succ.Top5Partners[1].PartnerScid)
}

func TestPerChannelTop5PartnersPushJob(t *testing.T) {
	s := newTestStore(t, Config{})
	now := time.Now().Unix()
	// Push job: Route[0] is the target channel itself (5), the upstream
	// partner is the last hop of the return leg (7).
	s.Append(model.StatsRecord{Scid: 5, Timestamp: now, Direction: model.Push, Kind: model.Success, AmountMsat: 10000, Route: []model.Scid{5, 6, 7}})
	s.Append(model.StatsRecord{Scid: 5, Timestamp: now + 1, Direction: model.Push, Kind: model.Success, AmountMsat: 20000, Route: []model.Scid{5, 8}})

	succ, _ := s.PerChannel(5)
	require.Len(t, succ.Top5Partners, 2)
	require.Equal(t, model.Scid(8), succ.Top5Partners[0].PartnerScid)
	require.EqualValues(t, 10, succ.Top5Partners[1].TotalSats)
	require.Equal(t, model.Scid(7), succ.Top5Partners[1].PartnerScid)
}

func TestSizePruning(t *testing.T) {
	s := newTestStore(t, Config{Successes: PrunePolicy{MaxSize: 2}})
	now := time.Now().Unix()
	s.Append(model.StatsRecord{Scid: 1, Timestamp: now, Kind: model.Success, AmountMsat: 1000})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: now + 1, Kind: model.Success, AmountMsat: 2000})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: now + 2, Kind: model.Success, AmountMsat: 3000})

	sum := s.Summary([]model.Scid{1})
	require.Equal(t, 2, sum[1].SuccessCount)
	// Oldest (1000) should have been dropped, FIFO by timestamp.
	require.EqualValues(t, 5, sum[1].SuccessAmountSats)
}

func TestAgePruning(t *testing.T) {
	s := newTestStore(t, Config{Failures: PrunePolicy{MaxAge: time.Minute}})
	old := time.Now().Add(-time.Hour).Unix()
	s.Append(model.StatsRecord{Scid: 1, Timestamp: old, Kind: model.Failure, AmountMsat: 1000})
	s.Append(model.StatsRecord{Scid: 1, Timestamp: time.Now().Unix(), Kind: model.Failure, AmountMsat: 1000})

	sum := s.Summary([]model.Scid{1})
	require.Equal(t, 1, sum[1].FailureCount)
}

func TestLiveStatusFormat(t *testing.T) {
	s := newTestStore(t, Config{})
	s.SetLiveStatus(7, []string{"1:Balanced", "2:Balanced"})
	live := s.LiveStatus()
	require.Equal(t, []string{"1:Balanced", "2:Balanced"}, live[7])
	s.ClearLiveStatus(7)
	require.Empty(t, s.LiveStatus())
}
