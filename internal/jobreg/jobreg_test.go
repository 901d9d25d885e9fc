package jobreg

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daywalker90/sling/internal/model"
)

type fakeOwned struct {
	closed map[model.Scid]bool
}

func (f fakeOwned) Closed(scid model.Scid) bool { return f.closed[scid] }

func owned(ids ...model.Scid) fakeOwned {
	m := map[model.Scid]bool{}
	for _, id := range ids {
		m[id] = false
	}
	return fakeOwned{closed: m}
}

func TestAddRejectsDuplicateScid(t *testing.T) {
	r := NewRegistry()
	ow := owned(1, 2)
	require.NoError(t, r.Add(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1}, ow))
	err := r.Add(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1}, ow)
	require.Error(t, err)
	require.Equal(t, "There is already a job for that scid!", err.Error())
}

func TestAddRejectsUnownedScid(t *testing.T) {
	r := NewRegistry()
	ow := fakeOwned{closed: map[model.Scid]bool{1: true}}
	err := r.Add(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1}, ow)
	require.Error(t, err)
}

func TestAddRejectsSelfCandidate(t *testing.T) {
	r := NewRegistry()
	ow := owned(1)
	job := model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1,
		Candidates: map[model.Scid]struct{}{1: {}}}
	err := r.Add(job, ow)
	require.Error(t, err)
}

func TestAddRejectsExceptingOwnChannel(t *testing.T) {
	r := NewRegistry()
	ow := owned(1)
	job := model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1,
		ExceptChannels: map[model.Scid]struct{}{1: {}}}
	err := r.Add(job, ow)
	require.Error(t, err)
	require.Equal(t, "You can't except your own channels", err.Error())
}

func TestAddRejectsCandidateConflict(t *testing.T) {
	r := NewRegistry()
	ow := owned(1, 2, 3)
	require.NoError(t, r.Add(model.Job{Scid: 2, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1}, ow))
	job := model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1,
		Candidates: map[model.Scid]struct{}{2: {}}}
	err := r.Add(job, ow)
	require.Error(t, err)
	require.Contains(t, err.Error(), "has a pull-job")
}

func TestDeleteAllIsIdempotent(t *testing.T) {
	r := NewRegistry()
	ow := owned(1)
	require.NoError(t, r.Add(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1}, ow))
	r.DeleteAll()
	require.Empty(t, r.List())
	r.DeleteAll()
	require.Empty(t, r.List())
}

func TestOnceJobDuplicateMessage(t *testing.T) {
	r := NewRegistry()
	ow := owned(1)
	require.NoError(t, r.AddOnce(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1, TotalAmountMsat: 100}, ow))
	err := r.Add(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1}, ow)
	require.Error(t, err)
	require.Equal(t, "Once-job is currently running for this channel", err.Error())
}

func TestUpdateDeliveredReportsDone(t *testing.T) {
	r := NewRegistry()
	ow := owned(1)
	require.NoError(t, r.AddOnce(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1, TotalAmountMsat: 100}, ow))
	require.False(t, r.UpdateDelivered(1, 60))
	require.True(t, r.UpdateDelivered(1, 60))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")

	r := NewRegistry()
	ow := owned(1)
	job := model.Job{
		Scid: 1, Direction: model.Pull, AmountMsat: 100000, MaxPPM: 500, OutPPM: 200,
		TargetRatio: 0.5, MaxHops: 4, ParallelJobs: 2,
		Candidates:     map[model.Scid]struct{}{},
		ExceptChannels: map[model.Scid]struct{}{9: {}},
	}
	require.NoError(t, r.Add(job, ow))
	require.NoError(t, r.SaveTo(path))

	r2 := NewRegistry()
	require.NoError(t, r2.LoadFrom(path, nil))
	got, ok := r2.Get(1)
	require.True(t, ok)
	require.Equal(t, job.Scid, got.Scid)
	require.Equal(t, job.MaxPPM, got.MaxPPM)
	require.Contains(t, got.ExceptChannels, model.Scid(9))
}

func TestExcludePullChans(t *testing.T) {
	r := NewRegistry()
	ow := owned(1, 2, 3)
	require.NoError(t, r.Add(model.Job{Scid: 1, Direction: model.Pull, MaxHops: 2, ParallelJobs: 1,
		Candidates: map[model.Scid]struct{}{2: {}}}, ow))
	excl := r.ExcludePullChans(1)
	require.Contains(t, excl, model.Scid(1))
	require.NotContains(t, excl, model.Scid(2))
	require.NotContains(t, excl, model.Scid(3))
}
