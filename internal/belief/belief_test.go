package belief

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daywalker90/sling/internal/model"
)

func TestBoundsDefaultsToFullCapacity(t *testing.T) {
	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 1000, hi)
}

func TestObserveSuccessRaisesLowerBound(t *testing.T) {
	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	s.ObserveSuccess(1, model.Pull, 500, 1000)
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 500, lo)
	require.EqualValues(t, 1000, hi)

	// A smaller success does not lower lo.
	s.ObserveSuccess(1, model.Pull, 100, 1000)
	lo, _ = s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 500, lo)
}

func TestObserveFailureLowersUpperBound(t *testing.T) {
	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	s.ObserveFailureCouldNotForward(1, model.Pull, 300, 1000)
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 299, hi)
}

func TestInvariantResetOnContradiction(t *testing.T) {
	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	s.ObserveSuccess(1, model.Pull, 800, 1000)
	// A failure below the already-established lower bound would violate
	// lo<=hi; the contradictory belief resets to [0, capacity].
	s.ObserveFailureCouldNotForward(1, model.Pull, 100, 1000)
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 1000, hi)
}

func TestDecayTickResetsOldBeliefs(t *testing.T) {
	s := NewStore(time.Millisecond, DefaultTTLPolicy(), nil)
	s.ObserveSuccess(1, model.Pull, 500, 1000)
	time.Sleep(5 * time.Millisecond)
	s.DecayTick(time.Now())
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 1000, hi)
}

func TestUnusableTTL(t *testing.T) {
	s := NewStore(time.Hour, TTLPolicy{TemporaryChannelFailure: 50 * time.Millisecond}, nil)
	s.ObserveChannelUnusable(1, model.Pull, "temporary_channel_failure", 1000)
	require.True(t, s.Unusable(1, model.Pull, time.Now()))
	require.False(t, s.Unusable(1, model.Pull, time.Now().Add(100*time.Millisecond)))
}

func TestHtlcBoundsDefaultsToEdge(t *testing.T) {
	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	min, max := s.HtlcBounds(1, model.Pull, 1000, 50000)
	require.EqualValues(t, 1000, min)
	require.EqualValues(t, 50000, max)
}

func TestObserveHtlcBoundHintOverridesEdge(t *testing.T) {
	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	s.ObserveHtlcBoundHint(1, model.Pull, 2000, 0, 1_000_000)
	min, max := s.HtlcBounds(1, model.Pull, 1000, 50000)
	require.EqualValues(t, 2000, min)
	require.EqualValues(t, 50000, max)

	s.ObserveHtlcBoundHint(1, model.Pull, 0, 40000, 1_000_000)
	min, max = s.HtlcBounds(1, model.Pull, 1000, 50000)
	require.EqualValues(t, 2000, min)
	require.EqualValues(t, 40000, max)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liquidity.json")

	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	s.ObserveSuccess(1, model.Pull, 500, 1000)
	require.NoError(t, s.SaveTo(path))

	s2 := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	require.NoError(t, s2.LoadFrom(path))
	lo, hi := s2.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 500, lo)
	require.EqualValues(t, 1000, hi)
}

func TestLoadEmptyFileIsNoPriorBeliefs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liquidity.json")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	require.NoError(t, s.LoadFrom(path))
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 1000, hi)
}

func TestLoadCorruptFileIsTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liquidity.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(time.Hour, DefaultTTLPolicy(), nil)
	require.NoError(t, s.LoadFrom(path))
	lo, hi := s.Bounds(1, model.Pull, 1000)
	require.EqualValues(t, 0, lo)
	require.EqualValues(t, 1000, hi)
}
