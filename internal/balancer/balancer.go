// Package balancer selects which worker a new node should be assigned to,
// based on each worker's live peer count versus its configured weight.
// SelectBestWorker is the core single-worker selection; SelectBestWorkers
// is an additive, PoP-aware, sticky-selection variant that is not used by
// the default v1/v2/v3 handlers but is available to deployments that
// group workers into points of presence.
package balancer

import (
	"math"
	"sort"

	"wgkex/internal/fleet"
	"wgkex/internal/model"
)

// Weight is one worker's load-balancer configuration.
type Weight struct {
	Weight int
	PoP    string
}

// WeightTable maps a configured worker to its Weight.
type WeightTable map[model.WorkerId]Weight

// TotalWeight returns max(1, Σ weight), counting a weight of 0 as 1 (the
// same fallback RelativeWeight applies) so a fleet entirely configured with
// weight 0 still balances evenly across its N workers, mirrored from the
// broker_config default weight of 1.
func (t WeightTable) TotalWeight() int {
	total := 0
	for _, w := range t {
		weight := w.Weight
		if weight == 0 {
			weight = 1
		}
		total += weight
	}
	if total < 1 {
		total = 1
	}
	return total
}

// RelativeWeight returns weight(w) / total_weight.
func (t WeightTable) RelativeWeight(worker model.WorkerId) float64 {
	w, ok := t[worker]
	weight := 1
	if ok {
		weight = w.Weight
		if weight == 0 {
			weight = 1
		}
	}
	return float64(weight) / float64(t.TotalWeight())
}

// Candidate is one worker's standing in a selection round.
type Candidate struct {
	Worker model.WorkerId
	Diff   int64
	Peers  int64
	Target int64
}

// Selector picks workers from a live fleet registry using a weight table.
type Selector struct {
	registry *fleet.Registry
	weights  WeightTable
}

// New returns a Selector over registry using weights for target
// computation.
func New(registry *fleet.Registry, weights WeightTable) *Selector {
	return &Selector{registry: registry, weights: weights}
}

// candidates returns one Candidate per configured worker that is online
// for domain, computed against the fleet-wide total peer count: T is
// global, not per-domain, so overload on any domain counts against a
// worker's overall budget.
func (s *Selector) candidates(domain model.Domain) []Candidate {
	total := s.registry.TotalPeerCount()

	out := make([]Candidate, 0, len(s.weights))
	for worker := range s.weights {
		if !s.registry.IsOnline(worker, domain) {
			continue
		}
		peers := s.registry.PeerCount(worker)
		target := int64(math.Round(s.weights.RelativeWeight(worker) * float64(total)))
		out = append(out, Candidate{
			Worker: worker,
			Diff:   peers - target,
			Peers:  peers,
			Target: target,
		})
	}
	return out
}

// SelectBestWorker returns the worker whose peer count is furthest below
// its weight-proportional target: the lowest diff, ties broken by
// WorkerId for determinism. ok is false when no configured worker is
// online for domain.
func (s *Selector) SelectBestWorker(domain model.Domain) (worker model.WorkerId, diff int64, peers int64, ok bool) {
	cands := s.candidates(domain)
	if len(cands) == 0 {
		return "", 0, 0, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Diff != cands[j].Diff {
			return cands[i].Diff < cands[j].Diff
		}
		return cands[i].Worker < cands[j].Worker
	})
	best := cands[0]
	return best.Worker, best.Diff, best.Peers, true
}

// StickyTolerance bounds how far above target a currently-selected worker
// may drift before SelectBestWorkers replaces it.
const StickyTolerance = 0.1

// SelectBestWorkers groups configured workers by PoP and picks one best
// worker per PoP. If currentSelection names a worker that is still online
// and not more than StickyTolerance·target above its target, it is kept
// instead of being replaced — this avoids needless peer churn when a
// worker is merely slightly over budget. Workers with no configured PoP
// are treated as members of a single implicit PoP (""), so a deployment
// that never sets pop behaves exactly like a single-PoP fleet.
func (s *Selector) SelectBestWorkers(domain model.Domain, currentSelection []model.WorkerId) []Candidate {
	byPoP := map[string][]Candidate{}
	for _, c := range s.candidates(domain) {
		pop := s.weights[c.Worker].PoP
		byPoP[pop] = append(byPoP[pop], c)
	}

	selectedSet := make(map[model.WorkerId]struct{}, len(currentSelection))
	for _, w := range currentSelection {
		selectedSet[w] = struct{}{}
	}

	var result []Candidate
	for pop, cands := range byPoP {
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].Diff != cands[j].Diff {
				return cands[i].Diff < cands[j].Diff
			}
			return cands[i].Worker < cands[j].Worker
		})

		if kept, ok := stickyCandidate(cands, selectedSet); ok {
			result = append(result, kept)
			continue
		}

		if len(cands) > 0 {
			result = append(result, cands[0])
		}
		_ = pop
	}
	return result
}

func stickyCandidate(cands []Candidate, selected map[model.WorkerId]struct{}) (Candidate, bool) {
	for _, c := range cands {
		if _, ok := selected[c.Worker]; !ok {
			continue
		}
		if c.Diff > 0 && float64(c.Diff) > StickyTolerance*float64(c.Target) {
			continue
		}
		return c, true
	}
	return Candidate{}, false
}
