// Package jobreg implements C4, the job registry: spec.md §4.4. It is
// the authoritative set of configured jobs per channel and their run
// state, with the admission validations spec.md §4.4 requires.
//
// Grounded on other_examples/d530aa7e_tos-network-tos-pool's master
// registry shape: an authoritative map guarded by one mutex, validated
// before admission, looked up by callers that never see a half-admitted
// entry.
package jobreg

import (
	"github.com/daywalker90/sling/internal/graph"
	"github.com/daywalker90/sling/internal/model"
	"github.com/daywalker90/sling/internal/slingerr"

	"sync"
)

// Entry bundles a Job with its run state.
type Entry struct {
	Job      model.Job
	RunState model.RunState
}

// Registry is the process-wide job registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[model.Scid]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.Scid]*Entry)}
}

// ownedChannel abstracts the minimal graph check Add needs: that scid
// exists in the graph. Whether one endpoint is the local node is not
// checked.
type ownedChannel interface {
	Closed(scid model.Scid) bool
}

// List returns a snapshot copy of all jobs.
func (r *Registry) List() []model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Job, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Job)
	}
	return out
}

// Get returns the job for scid, if any.
func (r *Registry) Get(scid model.Scid) (model.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[scid]
	if !ok {
		return model.Job{}, false
	}
	return e.Job, true
}

// RunState returns the run state for scid.
func (r *Registry) RunState(scid model.Scid) (model.RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[scid]
	if !ok {
		return model.Stopped, false
	}
	return e.RunState, true
}

// SetRunState transitions scid's run state.
func (r *Registry) SetRunState(scid model.Scid, st model.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[scid]; ok {
		e.RunState = st
	}
}

// validate runs the admission checks spec.md §4.4 specifies. It must be
// called with r.mu held (for read of r.entries) by the caller.
func (r *Registry) validate(job model.Job, owned ownedChannel) error {
	if owned.Closed(job.Scid) {
		return slingerr.Validationf("scid %s does not exist or is not owned", job.Scid)
	}
	if e, ok := r.entries[job.Scid]; ok {
		if e.Job.Kind == model.Once {
			return slingerr.Validationf("Once-job is currently running for this channel")
		}
		return slingerr.Validationf("There is already a job for that scid!")
	}
	if _, ok := job.Candidates[job.Scid]; ok {
		return slingerr.Validationf("scid %s cannot be its own candidate", job.Scid)
	}
	if _, excepted := job.ExceptChannels[job.Scid]; excepted {
		return slingerr.Validationf("You can't except your own channels")
	}
	for cand := range job.Candidates {
		if owned.Closed(cand) {
			return slingerr.Validationf("candidate %s does not exist or is not owned", cand)
		}
		if other, ok := r.entries[cand]; ok {
			if other.Job.Direction == job.Direction {
				return slingerr.Validationf("candidate %s has a %s-job", cand, job.Direction)
			}
		}
	}
	for _, e := range r.entries {
		if e.Job.Direction != job.Direction {
			continue
		}
		if _, inOther := e.Job.Candidates[job.Scid]; inOther {
			return slingerr.Validationf("candidate %s has a %s-job", job.Scid, job.Direction)
		}
	}
	return nil
}

// Add admits a new recurring job, running every validation from
// spec.md §4.4.
func (r *Registry) Add(job model.Job, owned ownedChannel) error {
	job.Kind = model.Recurring
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validate(job, owned); err != nil {
		return err
	}
	r.entries[job.Scid] = &Entry{Job: job, RunState: model.Stopped}
	return nil
}

// AddOnce admits a bounded one-off job, per the sling-once RPC.
func (r *Registry) AddOnce(job model.Job, owned ownedChannel) error {
	job.Kind = model.Once
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validate(job, owned); err != nil {
		return err
	}
	r.entries[job.Scid] = &Entry{Job: job, RunState: model.Stopped}
	return nil
}

// Replace overwrites an existing job's parameters without re-running
// duplicate-scid validation against itself.
func (r *Registry) Replace(job model.Job, owned ownedChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.entries[job.Scid]
	if !ok {
		return slingerr.Validationf("no job for scid %s", job.Scid)
	}
	delete(r.entries, job.Scid)
	if err := r.validate(job, owned); err != nil {
		r.entries[job.Scid] = existing
		return err
	}
	job.Kind = existing.Job.Kind
	r.entries[job.Scid] = &Entry{Job: job, RunState: existing.RunState}
	return nil
}

// Delete removes the job for scid. Idempotent: deleting a scid with no
// job is a no-op, satisfying spec.md §8's
// `sling-deletejob ["all"]` idempotence property.
func (r *Registry) Delete(scid model.Scid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, scid)
}

// DeleteAll removes every job.
func (r *Registry) DeleteAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[model.Scid]*Entry)
}

// UpdateDelivered advances a Once job's delivered amount and reports
// whether it has now reached its total.
func (r *Registry) UpdateDelivered(scid model.Scid, delta model.Msat) (done bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scid]
	if !ok || e.Job.Kind != model.Once {
		return false
	}
	e.Job.DeliveredMsat += delta
	return e.Job.DeliveredMsat >= e.Job.TotalAmountMsat
}

// ExceptChanAdd/Remove and ExceptPeerAdd/Remove implement
// sling-except-chan / sling-except-peer.
func (r *Registry) ExceptChanAdd(scid, target model.Scid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scid]
	if !ok {
		return slingerr.Validationf("no job for scid %s", scid)
	}
	if target == scid {
		return slingerr.Validationf("You can't except your own channels")
	}
	if e.Job.ExceptChannels == nil {
		e.Job.ExceptChannels = map[model.Scid]struct{}{}
	}
	e.Job.ExceptChannels[target] = struct{}{}
	return nil
}

func (r *Registry) ExceptChanRemove(scid, target model.Scid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scid]
	if !ok {
		return slingerr.Validationf("no job for scid %s", scid)
	}
	delete(e.Job.ExceptChannels, target)
	return nil
}

func (r *Registry) ExceptPeerAdd(scid model.Scid, peer model.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scid]
	if !ok {
		return slingerr.Validationf("no job for scid %s", scid)
	}
	if e.Job.ExceptPeers == nil {
		e.Job.ExceptPeers = map[model.NodeID]struct{}{}
	}
	e.Job.ExceptPeers[peer] = struct{}{}
	return nil
}

func (r *Registry) ExceptPeerRemove(scid model.Scid, peer model.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scid]
	if !ok {
		return slingerr.Validationf("no job for scid %s", scid)
	}
	delete(e.Job.ExceptPeers, peer)
	return nil
}

// ReconcileAgainst removes jobs whose channel has disappeared from the
// graph, per spec.md §3 Lifecycle ("until the channel disappears from
// the graph"). Returns the scids removed.
func (r *Registry) ReconcileAgainst(snap *graph.Snapshot) []model.Scid {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []model.Scid
	for scid := range r.entries {
		if snap.Closed(scid) {
			removed = append(removed, scid)
			delete(r.entries, scid)
		}
	}
	return removed
}

// ExcludePullChans computes the set of scids a pull-job search must
// exclude: the target itself, plus any scid that is the target of
// another pull-job or appears in another pull-job's candidate list,
// per spec.md §4.5.
func (r *Registry) ExcludePullChans(self model.Scid) map[model.Scid]struct{} {
	return r.excludeChans(self, model.Pull)
}

// ExcludePushChans is the push-direction symmetric counterpart.
func (r *Registry) ExcludePushChans(self model.Scid) map[model.Scid]struct{} {
	return r.excludeChans(self, model.Push)
}

func (r *Registry) excludeChans(self model.Scid, dir model.Direction) map[model.Scid]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[model.Scid]struct{}{self: {}}
	for _, e := range r.entries {
		if e.Job.Direction != dir || e.Job.Scid == self {
			continue
		}
		out[e.Job.Scid] = struct{}{}
		for c := range e.Job.Candidates {
			out[c] = struct{}{}
		}
	}
	return out
}
