package intelligence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/recallhq/recall-go/pkg/storage"
)

func TestDecayScorer_Retention(t *testing.T) {
	s := NewDecayScorer(0.1, 0.3)

	now := s.Retention(time.Now())
	assert.InDelta(t, 1.0, now, 1e-3)

	dayOld := s.Retention(time.Now().Add(-24 * time.Hour))
	weekOld := s.Retention(time.Now().Add(-7 * 24 * time.Hour))
	assert.Greater(t, now, dayOld)
	assert.Greater(t, dayOld, weekOld)
	assert.Greater(t, weekOld, 0.0)

	// Future timestamps clamp instead of exceeding 1.
	future := s.Retention(time.Now().Add(time.Hour))
	assert.LessOrEqual(t, future, 1.0)
}

func TestDecayScorer_Reinforce(t *testing.T) {
	s := NewDecayScorer(0.1, 0.3)

	assert.InDelta(t, 0.3, s.Reinforce(0), 1e-9)
	assert.InDelta(t, 0.65, s.Reinforce(0.5), 1e-9)
	assert.LessOrEqual(t, s.Reinforce(1), 1.0)
}

func TestDecayScorer_Classify(t *testing.T) {
	s := NewDecayScorer(0, 0)
	assert.Equal(t, TierLongTerm, s.Classify(0.9))
	assert.Equal(t, TierShortTerm, s.Classify(0.7))
	assert.Equal(t, TierWorking, s.Classify(0.2))
}

func TestDecayScorer_Rescore(t *testing.T) {
	s := NewDecayScorer(0.5, 0.3)

	fresh := &storage.Memory{ID: 1, Score: 0.8, UpdatedAt: time.Now()}
	stale := &storage.Memory{ID: 2, Score: 0.82, UpdatedAt: time.Now().Add(-30 * 24 * time.Hour)}
	memories := []*storage.Memory{stale, fresh}

	s.Rescore(memories)

	// The slightly-lower fresh score overtakes the stale one.
	assert.Equal(t, int64(1), memories[0].ID)
	assert.Less(t, memories[1].Score, 0.82)
}
