package intelligence

import (
	"math"
	"sort"
	"time"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Memory tiers assigned from retention strength.
const (
	TierWorking   = "working"
	TierShortTerm = "short_term"
	TierLongTerm  = "long_term"
)

// DecayScorer models retention with the Ebbinghaus forgetting curve.
// Retention only influences ranking; nothing is deleted by decay.
type DecayScorer struct {
	// decayRate controls how fast retention drops. Typical 0.05 to 0.2.
	decayRate float64

	// reinforcement is how much an access strengthens a memory. Typical
	// 0.2 to 0.5.
	reinforcement float64

	// blend is the share of the retrieval score that retention modulates.
	blend float64
}

// NewDecayScorer builds a scorer. Zero parameters select the defaults
// (decay 0.1, reinforcement 0.3, blend 0.3).
func NewDecayScorer(decayRate, reinforcement float64) *DecayScorer {
	if decayRate <= 0 {
		decayRate = 0.1
	}
	if reinforcement <= 0 {
		reinforcement = 0.3
	}
	return &DecayScorer{decayRate: decayRate, reinforcement: reinforcement, blend: 0.3}
}

// Retention computes current strength from the last touch time:
// R = e^(-rate * hours / 24), clamped to [0, 1].
func (s *DecayScorer) Retention(lastTouch time.Time) float64 {
	hours := time.Since(lastTouch).Hours()
	if hours < 0 {
		hours = 0
	}
	r := math.Exp(-s.decayRate * hours / 24.0)
	if r > 1 {
		return 1
	}
	return r
}

// Reinforce strengthens a memory on access. Weak memories gain more than
// strong ones; strength caps at 1.
func (s *DecayScorer) Reinforce(strength float64) float64 {
	strength += s.reinforcement * (1 - strength)
	if strength > 1 {
		return 1
	}
	return strength
}

// Classify maps retention strength to a memory tier.
func (s *DecayScorer) Classify(retention float64) string {
	switch {
	case retention >= 0.8:
		return TierLongTerm
	case retention >= 0.6:
		return TierShortTerm
	default:
		return TierWorking
	}
}

// Rescore blends retention into retrieval scores and re-sorts. The blend
// keeps decay from drowning out relevance: score' = score * (1 - blend +
// blend * retention), using updated_at as the last touch.
func (s *DecayScorer) Rescore(memories []*storage.Memory) {
	for _, m := range memories {
		retention := s.Retention(m.UpdatedAt)
		m.Score *= 1 - s.blend + s.blend*retention
	}
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		return memories[i].ID > memories[j].ID
	})
}
