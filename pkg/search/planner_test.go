package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/storage"
)

func fullCaps() storage.Capabilities {
	return storage.Capabilities{FullText: true, Sparse: true, NativeHybrid: true}
}

func TestMakePlan_Native(t *testing.T) {
	req := &Request{Dense: []float64{1}, Query: "coffee", Sparse: map[int]float64{1: 0.5}}
	p := MakePlan(fullCaps(), req)

	assert.Equal(t, ModeNative, p.Mode)
	assert.Empty(t, p.Reason)
	assert.True(t, p.Dense)
	assert.True(t, p.FullText)
	assert.True(t, p.Sparse)
}

func TestMakePlan_FallbackReasons(t *testing.T) {
	base := func() *Request {
		return &Request{Dense: []float64{1}, Query: "coffee"}
	}

	t.Run("no native fusion", func(t *testing.T) {
		p := MakePlan(storage.Capabilities{FullText: true}, base())
		assert.Equal(t, ModeFallback, p.Mode)
		assert.Equal(t, "engine has no native fusion", p.Reason)
	})

	t.Run("sparse requested without index", func(t *testing.T) {
		req := base()
		req.Sparse = map[int]float64{1: 0.5}
		p := MakePlan(storage.Capabilities{FullText: true, NativeHybrid: true}, req)
		assert.Equal(t, ModeFallback, p.Mode)
		assert.Equal(t, "sparse signal requested but collection has no sparse index", p.Reason)
		// The sparse signal is also pruned from execution.
		assert.False(t, p.Sparse)
	})

	t.Run("threshold", func(t *testing.T) {
		req := base()
		req.Threshold = 0.7
		p := MakePlan(fullCaps(), req)
		assert.Equal(t, ModeFallback, p.Mode)
		assert.Equal(t, "score threshold needs client-side scoring", p.Reason)
	})

	t.Run("metadata filter", func(t *testing.T) {
		filter, err := storage.ParseFilter(map[string]interface{}{"metadata.source": "chat"})
		require.NoError(t, err)
		req := base()
		req.Filter = filter
		p := MakePlan(fullCaps(), req)
		assert.Equal(t, ModeFallback, p.Mode)
		assert.Equal(t, "metadata filters need client-side evaluation", p.Reason)
	})

	t.Run("column filter stays native", func(t *testing.T) {
		filter, err := storage.ParseFilter(map[string]interface{}{"category": "food"})
		require.NoError(t, err)
		req := base()
		req.Filter = filter
		p := MakePlan(fullCaps(), req)
		assert.Equal(t, ModeNative, p.Mode)
	})
}

func TestMakePlan_PrunesUnsupportedSignals(t *testing.T) {
	req := &Request{Dense: []float64{1}, Query: "coffee", Sparse: map[int]float64{1: 1}}
	p := MakePlan(storage.Capabilities{}, req)

	assert.Equal(t, ModeFallback, p.Mode)
	assert.True(t, p.Dense)
	assert.False(t, p.FullText)
	assert.False(t, p.Sparse)
}

func TestRequest_Signals(t *testing.T) {
	dense, fullText, sparse := (&Request{Dense: []float64{1}}).Signals()
	assert.True(t, dense)
	assert.False(t, fullText)
	assert.False(t, sparse)

	dense, fullText, sparse = (&Request{Query: "x", Sparse: map[int]float64{0: 1}}).Signals()
	assert.False(t, dense)
	assert.True(t, fullText)
	assert.True(t, sparse)
}
