package oceanbase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/storage"
)

func TestVectorToString_RoundTrip(t *testing.T) {
	vec := []float64{0.1, -2, 3.25}
	s := vectorToString(vec)
	assert.Equal(t, "[0.1,-2,3.25]", s)

	parsed, err := stringToVector(s)
	require.NoError(t, err)
	assert.Equal(t, vec, parsed)

	empty, err := stringToVector("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSparseToString_SortedIndices(t *testing.T) {
	s := sparseToString(map[int]float64{5: 0.5, 1: 0.25, 3: 1})
	assert.Equal(t, "{1:0.25,3:1,5:0.5}", s)

	parsed, err := stringToSparse(s)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 0.25, 3: 1, 5: 0.5}, parsed)
}

func TestSparseToStringOrNil(t *testing.T) {
	assert.Nil(t, sparseToStringOrNil(nil))
	assert.Nil(t, sparseToStringOrNil(map[int]float64{}))
	assert.Equal(t, "{0:1}", sparseToStringOrNil(map[int]float64{0: 1}))
}

func TestStringToSparse_Malformed(t *testing.T) {
	_, err := stringToSparse("{1-0.5}")
	assert.Error(t, err)

	empty, err := stringToSparse("{}")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestExtractVersion(t *testing.T) {
	cases := map[string]string{
		"OceanBase_CE 4.3.5.1 (r100000242025...)": "4.3.5.1",
		"OceanBase 4.3.3":                         "4.3.3",
		"OceanBase_CE v4.2.1 extra":               "4.2.1",
		"MySQL compatible":                        "",
		"":                                        "",
	}
	for comment, want := range cases {
		assert.Equal(t, want, extractVersion(comment), comment)
	}
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast("4.3.3", "4.3.3"))
	assert.True(t, versionAtLeast("4.3.5.1", "4.3.5"))
	assert.True(t, versionAtLeast("4.10.0", "4.9.9"))
	assert.False(t, versionAtLeast("4.3.2", "4.3.3"))
	assert.False(t, versionAtLeast("3.9.9", "4.0.0"))
	assert.False(t, versionAtLeast("", "4.3.3"))
	// Missing components read as zero.
	assert.False(t, versionAtLeast("4.3", "4.3.3"))
}

func TestActiveWeights(t *testing.T) {
	q := &storage.HybridQuery{Dense: []float64{1}, Query: "coffee"}
	w := activeWeights(q)
	assert.Equal(t, storage.HybridWeights{Dense: 1, FullText: 1}, w)

	q.Weights = storage.HybridWeights{Dense: 0.9}
	assert.Equal(t, storage.HybridWeights{Dense: 0.9}, activeWeights(q))
}

func TestIsExistsError(t *testing.T) {
	assert.True(t, isExistsError(errors.New("Error 1061: Duplicate key name 'idx_memories_vec'")))
	assert.True(t, isExistsError(errors.New("index already exists")))
	assert.False(t, isExistsError(errors.New("syntax error near VECTOR")))
}

func TestOrderBy(t *testing.T) {
	assert.Equal(t, "created_at DESC, id DESC", orderBy("", ""))
	assert.Equal(t, "id ASC", orderBy(storage.SortByID, storage.OrderAsc))
	assert.Equal(t, "updated_at ASC, id DESC", orderBy(storage.SortByUpdatedAt, storage.OrderAsc))
	// Unknown columns fall back to created_at.
	assert.Equal(t, "created_at DESC, id DESC", orderBy("sneaky; DROP TABLE", storage.OrderDesc))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(-1))
	assert.Equal(t, 25, normalizeLimit(25))
}
