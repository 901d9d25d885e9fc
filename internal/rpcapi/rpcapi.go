// Package rpcapi implements the control RPC surface spec.md §6
// describes: the `sling-*` methods a host exposes to the operator.
// Transport is out of scope (spec.md §1); this package only holds the
// tagged request/response types and the dispatch logic wiring them
// into jobreg.Registry, controller.Manager and stats.Store, grounded
// on the way the teacher's configParams struct gives each CLI flag a
// typed field and a validation rule (main.go's preflightChecks),
// generalized from one-shot CLI flags to repeated RPC calls.
package rpcapi

import (
	"github.com/daywalker90/sling/internal/controller"
	"github.com/daywalker90/sling/internal/graph"
	"github.com/daywalker90/sling/internal/jobreg"
	"github.com/daywalker90/sling/internal/model"
	"github.com/daywalker90/sling/internal/slingerr"
	"github.com/daywalker90/sling/internal/stats"
)

// defaultTargetRatio is used when sling-job omits `target`, matching
// the balanced-midpoint default the upstream plugin's test fixtures
// assume when the option is unset.
const defaultTargetRatio = 0.5

// Deps bundles the subsystems the control surface dispatches into.
type Deps struct {
	Jobs       *jobreg.Registry
	Graph      *graph.Cache
	Controller *controller.Manager
	Stats      *stats.Store
	Version    string

	DefaultMaxHops      int
	DefaultParallelJobs uint16
}

// Server dispatches sling-* RPC calls.
type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Ack is the generic success result most mutating methods return.
type Ack struct {
	Message string `json:"message"`
}

// VersionResult answers sling-version.
type VersionResult struct {
	Version string `json:"version"`
}

func (s *Server) Version() VersionResult {
	return VersionResult{Version: s.deps.Version}
}

// JobRequest is sling-job's argument shape.
type JobRequest struct {
	Scid               string
	Direction          string // "pull" | "push"
	AmountMsat         uint64
	MaxPPM             uint32
	OutPPM             uint32
	TargetRatio        float64 // 0 means "use default"
	DepleteUpToPercent float64
	DepleteUpToAmount  uint64
	MaxHops            int // 0 means "use default"
	Candidates         []string
	ExceptChannels     []string
	ExceptPeers        []string
	ParallelJobs       uint16 // 0 means "use default"
}

func (s *Server) toJob(req JobRequest) (model.Job, error) {
	scid, err := model.ParseScid(req.Scid)
	if err != nil {
		return model.Job{}, slingerr.Validationf("invalid scid %q", req.Scid)
	}

	var dir model.Direction
	switch req.Direction {
	case "pull":
		dir = model.Pull
	case "push":
		dir = model.Push
	default:
		return model.Job{}, slingerr.Validationf("direction must be \"pull\" or \"push\"")
	}

	job := model.Job{
		Scid:              scid,
		Direction:         dir,
		AmountMsat:        model.Msat(req.AmountMsat),
		MaxPPM:            req.MaxPPM,
		OutPPM:            req.OutPPM,
		TargetRatio:       req.TargetRatio,
		DepleteUpToPct:    req.DepleteUpToPercent,
		DepleteUpToAmount: model.Msat(req.DepleteUpToAmount),
		MaxHops:           req.MaxHops,
	}
	if job.TargetRatio == 0 {
		job.TargetRatio = defaultTargetRatio
	}
	if job.MaxHops == 0 {
		job.MaxHops = s.deps.DefaultMaxHops
	}

	if len(req.Candidates) == 1 && req.Candidates[0] == "ALL" {
		job.CandidatesIsAll = true
	} else if len(req.Candidates) > 0 {
		job.Candidates = make(map[model.Scid]struct{}, len(req.Candidates))
		for _, c := range req.Candidates {
			cs, err := model.ParseScid(c)
			if err != nil {
				return model.Job{}, slingerr.Validationf("invalid candidate scid %q", c)
			}
			job.Candidates[cs] = struct{}{}
		}
	}

	if len(req.ExceptChannels) > 0 {
		job.ExceptChannels = make(map[model.Scid]struct{}, len(req.ExceptChannels))
		for _, c := range req.ExceptChannels {
			cs, err := model.ParseScid(c)
			if err != nil {
				return model.Job{}, slingerr.Validationf("invalid except-channel scid %q", c)
			}
			job.ExceptChannels[cs] = struct{}{}
		}
	}
	if len(req.ExceptPeers) > 0 {
		job.ExceptPeers = make(map[model.NodeID]struct{}, len(req.ExceptPeers))
		for _, p := range req.ExceptPeers {
			job.ExceptPeers[model.NodeID(p)] = struct{}{}
		}
	}

	pj := req.ParallelJobs
	if pj == 0 {
		pj = s.deps.DefaultParallelJobs
	}
	if pj == 0 {
		pj = 1
	}
	job.ParallelJobs = pj

	return job, nil
}

// Job implements sling-job: admits a recurring job.
func (s *Server) Job(req JobRequest) (Ack, error) {
	job, err := s.toJob(req)
	if err != nil {
		return Ack{}, err
	}
	if err := s.deps.Jobs.Add(job, s.deps.Graph.Current()); err != nil {
		return Ack{}, err
	}
	return Ack{Message: "job added"}, nil
}

// OnceRequest is sling-once's argument shape: a JobRequest plus the
// bounded total amount.
type OnceRequest struct {
	JobRequest
	TotalAmountMsat uint64
}

// Once implements sling-once: admits a bounded one-off job.
func (s *Server) Once(req OnceRequest) (Ack, error) {
	job, err := s.toJob(req.JobRequest)
	if err != nil {
		return Ack{}, err
	}
	if req.TotalAmountMsat == 0 {
		return Ack{}, slingerr.Validationf("total_amount must be greater than 0")
	}
	job.TotalAmountMsat = model.Msat(req.TotalAmountMsat)
	if err := s.deps.Jobs.AddOnce(job, s.deps.Graph.Current()); err != nil {
		return Ack{}, err
	}
	return Ack{Message: "once-job added"}, nil
}

// scidOrAll parses the `[]` / `[scid]` / `["all"]` argument convention
// spec.md §6 uses for sling-go/sling-stop/sling-deletejob.
func scidOrAll(args []string) (scid model.Scid, all bool, err error) {
	if len(args) == 0 {
		return 0, true, nil
	}
	if args[0] == "all" {
		return 0, true, nil
	}
	scid, err = model.ParseScid(args[0])
	if err != nil {
		return 0, false, slingerr.Validationf("invalid scid %q", args[0])
	}
	return scid, false, nil
}

// Go implements sling-go.
func (s *Server) Go(args []string) (Ack, error) {
	scid, all, err := scidOrAll(args)
	if err != nil {
		return Ack{}, err
	}
	s.deps.Controller.Go(scid, all)
	return Ack{Message: "started"}, nil
}

// Stop implements sling-stop.
func (s *Server) Stop(args []string) (Ack, error) {
	scid, all, err := scidOrAll(args)
	if err != nil {
		return Ack{}, err
	}
	s.deps.Controller.Stop(scid, all)
	return Ack{Message: "stopping"}, nil
}

// DeleteJob implements sling-deletejob.
func (s *Server) DeleteJob(args []string) (Ack, error) {
	if len(args) == 0 {
		return Ack{}, slingerr.Validationf("sling-deletejob requires [scid] or [\"all\"]")
	}
	if args[0] == "all" {
		s.deps.Jobs.DeleteAll()
		return Ack{Message: "all jobs deleted"}, nil
	}
	scid, err := model.ParseScid(args[0])
	if err != nil {
		return Ack{}, slingerr.Validationf("invalid scid %q", args[0])
	}
	s.deps.Jobs.Delete(scid)
	return Ack{Message: "job deleted"}, nil
}

// StatsResult is sling-stats' result: exactly one of the three fields
// is populated, matching the "summary / per-channel / live" result
// shapes the table in spec.md §6 names.
type StatsResult struct {
	Summary    map[model.Scid]stats.ChannelSummary `json:"summary,omitempty"`
	PerChannel *PerChannelStats                    `json:"per_channel,omitempty"`
	Live       map[model.Scid][]string             `json:"live,omitempty"`
}

// PerChannelStats is sling-stats [scid]'s result.
type PerChannelStats struct {
	Scid       model.Scid          `json:"scid"`
	Successes  stats.WindowSummary `json:"successes"`
	Failures   stats.WindowSummary `json:"failures"`
}

// Stats implements sling-stats. `[]` returns the summary across every
// job's scid, `[scid]` returns that channel's windowed breakdown,
// `[true]` returns the live per-worker status.
func (s *Server) Stats(args []string) (StatsResult, error) {
	if len(args) == 1 && args[0] == "true" {
		return StatsResult{Live: s.deps.Stats.LiveStatus()}, nil
	}
	if len(args) == 1 {
		scid, err := model.ParseScid(args[0])
		if err != nil {
			return StatsResult{}, slingerr.Validationf("invalid scid %q", args[0])
		}
		succ, fail := s.deps.Stats.PerChannel(scid)
		return StatsResult{PerChannel: &PerChannelStats{Scid: scid, Successes: succ, Failures: fail}}, nil
	}

	jobs := s.deps.Jobs.List()
	scids := make([]model.Scid, len(jobs))
	for i, j := range jobs {
		scids[i] = j.Scid
	}
	return StatsResult{Summary: s.deps.Stats.Summary(scids)}, nil
}

// ExceptChan implements sling-except-chan. jobScidStr names the job
// the exception is recorded against (an Open Question per spec.md §9:
// the table's `["add"|"remove", scid]` argument shape doesn't say
// which job owns the exception list, since ExceptChannels is per-job
// in jobreg); args is the `["add"|"remove", scid]` pair itself.
func (s *Server) ExceptChan(jobScidStr string, args []string) (Ack, error) {
	jobScid, err := model.ParseScid(jobScidStr)
	if err != nil {
		return Ack{}, slingerr.Validationf("invalid scid %q", jobScidStr)
	}
	if len(args) != 2 {
		return Ack{}, slingerr.Validationf("sling-except-chan requires [\"add\"|\"remove\", scid]")
	}
	target, err := model.ParseScid(args[1])
	if err != nil {
		return Ack{}, slingerr.Validationf("invalid scid %q", args[1])
	}
	switch args[0] {
	case "add":
		if err := s.deps.Jobs.ExceptChanAdd(jobScid, target); err != nil {
			return Ack{}, err
		}
	case "remove":
		if err := s.deps.Jobs.ExceptChanRemove(jobScid, target); err != nil {
			return Ack{}, err
		}
	default:
		return Ack{}, slingerr.Validationf("first argument must be \"add\" or \"remove\"")
	}
	return Ack{Message: "ok"}, nil
}

// ExceptPeer implements sling-except-peer, same jobScidStr convention
// as ExceptChan.
func (s *Server) ExceptPeer(jobScidStr string, args []string) (Ack, error) {
	jobScid, err := model.ParseScid(jobScidStr)
	if err != nil {
		return Ack{}, slingerr.Validationf("invalid scid %q", jobScidStr)
	}
	if len(args) != 2 {
		return Ack{}, slingerr.Validationf("sling-except-peer requires [\"add\"|\"remove\", node_id]")
	}
	peer := model.NodeID(args[1])
	switch args[0] {
	case "add":
		if err := s.deps.Jobs.ExceptPeerAdd(jobScid, peer); err != nil {
			return Ack{}, err
		}
	case "remove":
		if err := s.deps.Jobs.ExceptPeerRemove(jobScid, peer); err != nil {
			return Ack{}, err
		}
	default:
		return Ack{}, slingerr.Validationf("first argument must be \"add\" or \"remove\"")
	}
	return Ack{Message: "ok"}, nil
}
