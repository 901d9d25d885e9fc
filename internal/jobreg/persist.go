package jobreg

import (
	"encoding/json"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/model"
)

// persistedJob is the on-disk shape of jobs.json, per spec.md §6.
type persistedJob struct {
	Scid              uint64   `json:"scid"`
	Direction         int      `json:"direction"`
	AmountMsat        uint64   `json:"amount_msat"`
	MaxPPM            uint32   `json:"max_ppm"`
	OutPPM            uint32   `json:"out_ppm"`
	TargetRatio       float64  `json:"target_ratio"`
	DepleteUpToPct    float64  `json:"depleteuptopercent"`
	DepleteUpToAmount uint64   `json:"depleteuptoamount_msat"`
	MaxHops           int      `json:"max_hops"`
	CandidatesIsAll   bool     `json:"candidates_all"`
	Candidates        []uint64 `json:"candidates,omitempty"`
	ExceptChannels    []uint64 `json:"except_channels,omitempty"`
	ExceptPeers       []string `json:"except_peers,omitempty"`
	ParallelJobs      uint16   `json:"parallel_jobs"`
	Kind              int      `json:"kind"`
	TotalAmountMsat   uint64   `json:"total_amount_msat,omitempty"`
	DeliveredMsat     uint64   `json:"delivered_msat,omitempty"`
}

func toPersisted(j model.Job) persistedJob {
	pj := persistedJob{
		Scid:              uint64(j.Scid),
		Direction:         int(j.Direction),
		AmountMsat:        uint64(j.AmountMsat),
		MaxPPM:            j.MaxPPM,
		OutPPM:            j.OutPPM,
		TargetRatio:       j.TargetRatio,
		DepleteUpToPct:    j.DepleteUpToPct,
		DepleteUpToAmount: uint64(j.DepleteUpToAmount),
		MaxHops:           j.MaxHops,
		CandidatesIsAll:   j.CandidatesIsAll,
		ParallelJobs:      j.ParallelJobs,
		Kind:              int(j.Kind),
		TotalAmountMsat:   uint64(j.TotalAmountMsat),
		DeliveredMsat:     uint64(j.DeliveredMsat),
	}
	for c := range j.Candidates {
		pj.Candidates = append(pj.Candidates, uint64(c))
	}
	for c := range j.ExceptChannels {
		pj.ExceptChannels = append(pj.ExceptChannels, uint64(c))
	}
	for p := range j.ExceptPeers {
		pj.ExceptPeers = append(pj.ExceptPeers, string(p))
	}
	return pj
}

func fromPersisted(pj persistedJob) model.Job {
	j := model.Job{
		Scid:              model.Scid(pj.Scid),
		Direction:         model.Direction(pj.Direction),
		AmountMsat:        model.Msat(pj.AmountMsat),
		MaxPPM:            pj.MaxPPM,
		OutPPM:            pj.OutPPM,
		TargetRatio:       pj.TargetRatio,
		DepleteUpToPct:    pj.DepleteUpToPct,
		DepleteUpToAmount: model.Msat(pj.DepleteUpToAmount),
		MaxHops:           pj.MaxHops,
		CandidatesIsAll:   pj.CandidatesIsAll,
		ParallelJobs:      pj.ParallelJobs,
		Kind:              model.JobKind(pj.Kind),
		TotalAmountMsat:   model.Msat(pj.TotalAmountMsat),
		DeliveredMsat:     model.Msat(pj.DeliveredMsat),
	}
	if len(pj.Candidates) > 0 {
		j.Candidates = make(map[model.Scid]struct{}, len(pj.Candidates))
		for _, c := range pj.Candidates {
			j.Candidates[model.Scid(c)] = struct{}{}
		}
	}
	if len(pj.ExceptChannels) > 0 {
		j.ExceptChannels = make(map[model.Scid]struct{}, len(pj.ExceptChannels))
		for _, c := range pj.ExceptChannels {
			j.ExceptChannels[model.Scid(c)] = struct{}{}
		}
	}
	if len(pj.ExceptPeers) > 0 {
		j.ExceptPeers = make(map[model.NodeID]struct{}, len(pj.ExceptPeers))
		for _, p := range pj.ExceptPeers {
			j.ExceptPeers[model.NodeID(p)] = struct{}{}
		}
	}
	return j
}

// SaveTo persists every job to jobs.json.
func (r *Registry) SaveTo(path string) error {
	r.mu.RLock()
	out := make([]persistedJob, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, toPersisted(e.Job))
	}
	r.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(out); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFrom reloads jobs.json. A missing or empty file means no jobs; a
// corrupt file is logged and replaced with empty state, per spec.md §7.
func (r *Registry) LoadFrom(path string, log *logrus.Entry) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var in []persistedJob
	if err := json.Unmarshal(data, &in); err != nil {
		if log != nil {
			log.WithError(err).Warn("corrupt jobs.json, starting with empty job set")
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[model.Scid]*Entry, len(in))
	for _, pj := range in {
		job := fromPersisted(pj)
		r.entries[job.Scid] = &Entry{Job: job, RunState: model.Stopped}
	}
	return nil
}
