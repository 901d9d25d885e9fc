package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsPassValidation(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestRefreshIntervalMustBeAtLeastOne(t *testing.T) {
	cfg := Defaults()
	cfg.RefreshPeersInterval = 0
	err := Validate(cfg)
	require.Error(t, err)
	require.Equal(t, "must be greater than or equal to 1", err.Error())
}

func TestDepleteUpToPercentRange(t *testing.T) {
	cfg := Defaults()
	cfg.DepleteUpToPercent = 1
	err := Validate(cfg)
	require.Error(t, err)
	require.Equal(t, "needs to be greater than 0 and <1", err.Error())
}

func TestDepleteUpToPercentZeroDisablesGate(t *testing.T) {
	cfg := Defaults()
	cfg.DepleteUpToPercent = 0
	require.NoError(t, Validate(cfg))
}

func TestMaxHopsMinimumTwo(t *testing.T) {
	cfg := Defaults()
	cfg.MaxHops = 1
	err := Validate(cfg)
	require.Error(t, err)
	require.Equal(t, "must be greater than or equal to 2", err.Error())
}

func TestParallelJobsOverflowRejected(t *testing.T) {
	cfg := Defaults()
	cfg.ParallelJobs = 70000
	err := Validate(cfg)
	require.Error(t, err)
	require.Equal(t, "out of range integral type conversion attempted", err.Error())
}

func TestParallelJobsZeroRejected(t *testing.T) {
	cfg := Defaults()
	cfg.ParallelJobs = 0
	err := Validate(cfg)
	require.Error(t, err)
	require.Equal(t, "must be greater than or equal to 1", err.Error())
}

func TestStatsDeleteSizeNegativeRejected(t *testing.T) {
	cfg := Defaults()
	cfg.StatsDeleteFailuresSize = -1
	err := Validate(cfg)
	require.Error(t, err)
	require.Equal(t, "needs to be a positive number", err.Error())
}
