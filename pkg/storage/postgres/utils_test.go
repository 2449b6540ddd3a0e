package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLiteral_RoundTrip(t *testing.T) {
	vec := []float64{0.5, -1, 2.125}
	s := vectorLiteral(vec)
	assert.Equal(t, "[0.5,-1,2.125]", s)

	parsed, err := parseVectorText(s)
	require.NoError(t, err)
	assert.Equal(t, vec, parsed)
}

func TestSparseLiteral_OneBasedSorted(t *testing.T) {
	s := sparseLiteral(map[int]float64{4: 0.5, 0: 0.25}, 262144)
	assert.Equal(t, "{1:0.25,5:0.5}/262144", s)
}

func TestParseSparseText_RoundTrip(t *testing.T) {
	original := map[int]float64{0: 0.25, 4: 0.5, 100: 1}
	parsed, err := parseSparseText(sparseLiteral(original, 262144))
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestSparseLiteralOrNil(t *testing.T) {
	assert.Nil(t, sparseLiteralOrNil(nil, 10))
	assert.Equal(t, "{1:1}/10", sparseLiteralOrNil(map[int]float64{0: 1}, 10))
}

func TestParseSparseText_Malformed(t *testing.T) {
	_, err := parseSparseText("{1=0.5}/10")
	assert.Error(t, err)

	empty, err := parseSparseText("{}/10")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestMarshalMetadata(t *testing.T) {
	s, err := marshalMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)

	s, err = marshalMetadata(map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, s)
}

func TestOrderBy_RejectsUnknownColumns(t *testing.T) {
	assert.Equal(t, "created_at DESC, id DESC", orderBy("metadata; --", ""))
	assert.Equal(t, "id DESC", orderBy("id", ""))
}
