package rotation

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"proxygate/internal/domain"
	"proxygate/internal/registry"
)

type Policy string

const (
	PolicyRandom      Policy = "random"
	PolicyRoundRobin  Policy = "round_robin"
	PolicyLRU         Policy = "lru"
	PolicyBest        Policy = "best"
	PolicyHealthScore Policy = "health_score"
)

var ErrNoCandidate = errors.New("rotation: no working proxy available")

// randIntn is swapped in tests for deterministic random selection.
var randIntn = rand.Intn

// Selector picks one proxy from the registry's working set. The round-robin
// cursor is a single shared atomic counter; when the candidate set changes
// size between calls the modulo wrap can skip or repeat a candidate, which
// is an accepted approximation.
type Selector struct {
	registry *registry.Registry
	dead     *DeadTargets
	cursor   atomic.Uint64
}

func NewSelector(reg *registry.Registry, dead *DeadTargets) *Selector {
	return &Selector{
		registry: reg,
		dead:     dead,
	}
}

// Select returns one working proxy under the given policy and stamps its
// last_used. Candidates already known dead for targetURL are excluded.
func (s *Selector) Select(policy Policy, targetURL string) (domain.ProxyRecord, error) {
	candidates := s.registry.ListWorking()

	if targetURL != "" && s.dead != nil {
		alive := candidates[:0]
		for _, candidate := range candidates {
			if !s.dead.IsDead(targetURL, candidate.ID) {
				alive = append(alive, candidate)
			}
		}
		candidates = alive
	}

	if len(candidates) == 0 {
		return domain.ProxyRecord{}, ErrNoCandidate
	}

	var chosen domain.ProxyRecord
	switch policy {
	case PolicyRandom:
		chosen = candidates[randIntn(len(candidates))]
	case PolicyRoundRobin:
		chosen = s.pickRoundRobin(candidates)
	case PolicyLRU:
		chosen = pickLRU(candidates)
	case PolicyBest:
		chosen = pickBest(candidates)
	case PolicyHealthScore:
		chosen = pickByHealthScore(candidates)
	default:
		log.Warn("rotation: unknown policy, falling back to health_score", "policy", policy)
		chosen = pickByHealthScore(candidates)
	}

	if err := s.registry.MarkUsed(chosen.ID, time.Now()); err != nil {
		log.Debug("rotation: could not stamp last_used", "proxy_id", chosen.ID, "error", err)
	}
	return chosen, nil
}

// ReportFailure marks a proxy dead for a specific target so subsequent
// selections for that target skip it until the entry expires.
func (s *Selector) ReportFailure(targetURL string, proxyID uint64) {
	if s.dead == nil || targetURL == "" {
		return
	}
	s.dead.ReportFailure(targetURL, proxyID)
}

func (s *Selector) pickRoundRobin(candidates []domain.ProxyRecord) domain.ProxyRecord {
	sortByID(candidates)
	cursor := s.cursor.Add(1) - 1
	return candidates[cursor%uint64(len(candidates))]
}

func pickLRU(candidates []domain.ProxyRecord) domain.ProxyRecord {
	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i].LastUsed, candidates[j].LastUsed
		switch {
		case left == nil && right == nil:
			return candidates[i].ID < candidates[j].ID
		case left == nil:
			return true
		case right == nil:
			return false
		case left.Equal(*right):
			return candidates[i].ID < candidates[j].ID
		default:
			return left.Before(*right)
		}
	})
	return candidates[0]
}

func pickBest(candidates []domain.ProxyRecord) domain.ProxyRecord {
	sortByID(candidates)

	best := candidates[0]
	bestLatency := math.Inf(1)
	if best.Latency != nil {
		bestLatency = *best.Latency
	}

	for _, candidate := range candidates[1:] {
		if candidate.Latency == nil {
			continue
		}
		if *candidate.Latency < bestLatency {
			best = candidate
			bestLatency = *candidate.Latency
		}
	}
	return best
}

func pickByHealthScore(candidates []domain.ProxyRecord) domain.ProxyRecord {
	now := time.Now()

	best := candidates[0]
	bestScore := best.HealthScoreAt(now)

	for _, candidate := range candidates[1:] {
		score := candidate.HealthScoreAt(now)
		switch {
		case score > bestScore:
			best = candidate
			bestScore = score
		case score == bestScore && tieBreakLess(candidate, best):
			best = candidate
		}
	}
	return best
}

// tieBreakLess orders equal-score candidates by lower latency (unknown
// latency after all known values), then by lower id.
func tieBreakLess(a, b domain.ProxyRecord) bool {
	aLatency, bLatency := math.Inf(1), math.Inf(1)
	if a.Latency != nil {
		aLatency = *a.Latency
	}
	if b.Latency != nil {
		bLatency = *b.Latency
	}
	if aLatency != bLatency {
		return aLatency < bLatency
	}
	return a.ID < b.ID
}

func sortByID(candidates []domain.ProxyRecord) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})
}
