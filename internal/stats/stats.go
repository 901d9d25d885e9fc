// Package stats implements C3, the persisted statistics store: spec.md
// §4.3. Appends are synchronous to an in-memory ring and asynchronous to
// disk; pruning is independently configurable by age and by size for
// successes and failures.
//
// Grounded on the teacher's --stat CSV writer (statFilename in main.go),
// generalized to a JSON-lines append log with query support.
package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daywalker90/sling/internal/model"
)

// PrunePolicy configures independent age/size pruning for one record
// kind, per spec.md §4.3. A zero value disables that axis.
type PrunePolicy struct {
	MaxAge  time.Duration
	MaxSize int
}

// Config bundles the two PrunePolicies.
type Config struct {
	Successes PrunePolicy
	Failures  PrunePolicy
}

type writeTask struct {
	scid model.Scid
	rec  model.StatsRecord
}

// Store is the process-wide stats store: an in-memory ring per scid
// backed by an append-only per-scid log file under dir/stats/<scid>.log.
type Store struct {
	mu      sync.RWMutex
	byScid  map[model.Scid][]model.StatsRecord
	cfg     Config
	dir     string
	log     *logrus.Entry
	writeCh chan writeTask
	wg      sync.WaitGroup

	liveMu sync.RWMutex
	live   map[model.Scid][]string // "<worker_id>:<state>" per job
}

func NewStore(dir string, cfg Config, log *logrus.Entry) *Store {
	s := &Store{
		byScid:  make(map[model.Scid][]model.StatsRecord),
		cfg:     cfg,
		dir:     dir,
		log:     log,
		writeCh: make(chan writeTask, 256),
		live:    make(map[model.Scid][]string),
	}
	s.wg.Add(1)
	go s.serializer()
	return s
}

// Close drains the async writer. Callers should call this on graceful
// shutdown.
func (s *Store) Close() {
	close(s.writeCh)
	s.wg.Wait()
}

func (s *Store) statsPath(scid model.Scid) string {
	return filepath.Join(s.dir, "stats", fmt.Sprintf("%d.log", uint64(scid)))
}

// Append records rec synchronously in memory and enqueues it for async
// disk persistence, per spec.md §4.3.
func (s *Store) Append(rec model.StatsRecord) {
	s.mu.Lock()
	s.byScid[rec.Scid] = append(s.byScid[rec.Scid], rec)
	s.prune(rec.Scid)
	s.mu.Unlock()

	select {
	case s.writeCh <- writeTask{scid: rec.Scid, rec: rec}:
	default:
		if s.log != nil {
			s.log.Warn("stats writer backlogged, dropping a disk write (in-memory record kept)")
		}
	}
}

// prune must be called with s.mu held.
func (s *Store) prune(scid model.Scid) {
	recs := s.byScid[scid]
	now := time.Now()

	filterAge := func(kind model.StatsKind, maxAge time.Duration) {
		if maxAge <= 0 {
			return
		}
		out := recs[:0]
		for _, r := range recs {
			if r.Kind == kind && now.Sub(time.Unix(r.Timestamp, 0)) > maxAge {
				continue
			}
			out = append(out, r)
		}
		recs = out
	}
	filterAge(model.Success, s.cfg.Successes.MaxAge)
	filterAge(model.Failure, s.cfg.Failures.MaxAge)

	capSize := func(kind model.StatsKind, maxSize int) {
		if maxSize <= 0 {
			return
		}
		count := 0
		for _, r := range recs {
			if r.Kind == kind {
				count++
			}
		}
		if count <= maxSize {
			return
		}
		toDrop := count - maxSize
		out := make([]model.StatsRecord, 0, len(recs))
		dropped := 0
		for _, r := range recs {
			if r.Kind == kind && dropped < toDrop {
				dropped++
				continue
			}
			out = append(out, r)
		}
		recs = out
	}
	capSize(model.Success, s.cfg.Successes.MaxSize)
	capSize(model.Failure, s.cfg.Failures.MaxSize)

	s.byScid[scid] = recs
}

// PruneAll runs the pruning policy across every tracked scid; invoked
// periodically by the background stats pruner task.
func (s *Store) PruneAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for scid := range s.byScid {
		s.prune(scid)
	}
}

func (s *Store) serializer() {
	defer s.wg.Done()
	for task := range s.writeCh {
		if err := s.writeOne(task); err != nil && s.log != nil {
			s.log.WithError(err).Warn("failed to persist stats record")
		}
	}
}

func (s *Store) writeOne(task writeTask) error {
	path := s.statsPath(task.scid)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(task.rec); err != nil {
		return err
	}
	return w.Flush()
}

// ChannelSummary is one scid's summarized success/failure counts.
type ChannelSummary struct {
	Scid              model.Scid
	SuccessCount      int
	FailureCount      int
	SuccessAmountSats uint64
}

// Summary returns a mapping scid -> summary for every scid passed in
// (the set of scids that currently have a job, per spec.md §4.3).
func (s *Store) Summary(scids []model.Scid) map[model.Scid]ChannelSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Scid]ChannelSummary, len(scids))
	for _, scid := range scids {
		var cs ChannelSummary
		cs.Scid = scid
		for _, r := range s.byScid[scid] {
			if r.Kind == model.Success {
				cs.SuccessCount++
				cs.SuccessAmountSats += uint64(r.AmountMsat.Sat())
			} else {
				cs.FailureCount++
			}
		}
		out[scid] = cs
	}
	return out
}

// PartnerTotal is one partner scid's aggregated throughput.
type PartnerTotal struct {
	PartnerScid  model.Scid
	TotalSats    uint64
	MostRecentTS int64
}

// WindowSummary is the per-direction breakdown spec.md §4.3 describes.
type WindowSummary struct {
	TotalAmountSats uint64
	Count           int
	Top5Partners    []PartnerTotal
}

// PerChannel returns the success/failure window summaries for scid,
// including the top-5 channel partners ranked by total sats moved,
// tie-broken by most recent success, per spec.md §4.3.
func (s *Store) PerChannel(scid model.Scid) (successes, failures WindowSummary) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	partnerTotals := map[model.Scid]*PartnerTotal{}
	for _, r := range s.byScid[scid] {
		if r.Kind == model.Success {
			successes.Count++
			successes.TotalAmountSats += uint64(r.AmountMsat.Sat())
			if len(r.Route) > 0 {
				// For a pull job Route[0] is the candidate edge, the hop
				// closest to us. For a push job Route[0] is the target
				// channel itself; the hop closest to us is the last edge
				// of the search leg back to our own node.
				partner := r.Route[0]
				if r.Direction == model.Push {
					partner = r.Route[len(r.Route)-1]
				}
				pt, ok := partnerTotals[partner]
				if !ok {
					pt = &PartnerTotal{PartnerScid: partner}
					partnerTotals[partner] = pt
				}
				pt.TotalSats += uint64(r.AmountMsat.Sat())
				if r.Timestamp > pt.MostRecentTS {
					pt.MostRecentTS = r.Timestamp
				}
			}
		} else {
			failures.Count++
			failures.TotalAmountSats += uint64(r.AmountMsat.Sat())
		}
	}

	partners := make([]PartnerTotal, 0, len(partnerTotals))
	for _, pt := range partnerTotals {
		partners = append(partners, *pt)
	}
	sort.Slice(partners, func(i, j int) bool {
		if partners[i].TotalSats != partners[j].TotalSats {
			return partners[i].TotalSats > partners[j].TotalSats
		}
		return partners[i].MostRecentTS > partners[j].MostRecentTS
	})
	if len(partners) > 5 {
		partners = partners[:5]
	}
	successes.Top5Partners = partners
	return successes, failures
}

// SetLiveStatus publishes the current "<worker_id>:<state>" strings for
// scid's job, per spec.md §4.7.
func (s *Store) SetLiveStatus(scid model.Scid, statuses []string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.live[scid] = statuses
}

// ClearLiveStatus removes scid's live status, called when a job stops.
func (s *Store) ClearLiveStatus(scid model.Scid) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	delete(s.live, scid)
}

// LiveStatus returns the current WorkerStatus list per active job, per
// spec.md §4.3's `live_status(true)`.
func (s *Store) LiveStatus() map[model.Scid][]string {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	out := make(map[model.Scid][]string, len(s.live))
	for k, v := range s.live {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
