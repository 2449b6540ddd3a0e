package core

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/storage"
)

func TestBackupRestore_RoundTrip(t *testing.T) {
	source := newTestClient(t, nil, map[string][]float64{
		"a": {1, 0, 0, 0}, "b": {0, 1, 0, 0}, "c": {0, 0, 1, 0},
	})
	ctx := context.Background()

	for _, item := range []struct{ user, content string }{
		{"alice", "a"}, {"alice", "b"}, {"bob", "c"},
	} {
		_, err := source.Add(ctx, item.content, WithUserID(item.user), WithInfer(false))
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	exported, err := Backup(ctx, source, nil, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), exported)
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	target := newTestClient(t, nil, nil)
	restored, err := Restore(ctx, target, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), restored)

	memories, err := target.GetAll(ctx, WithUserIDForGetAll("alice"))
	require.NoError(t, err)
	assert.Len(t, memories, 2)
}

func TestBackup_ScopedToIdentity(t *testing.T) {
	source := newTestClient(t, nil, map[string][]float64{
		"a": {1, 0, 0, 0}, "c": {0, 0, 1, 0},
	})
	ctx := context.Background()

	for _, item := range []struct{ user, content string }{
		{"alice", "a"}, {"bob", "c"},
	} {
		_, err := source.Add(ctx, item.content, WithUserID(item.user), WithInfer(false))
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	exported, err := Backup(ctx, source, &storage.Identity{UserID: "alice"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exported)
	assert.Contains(t, buf.String(), `"alice"`)
	assert.NotContains(t, buf.String(), `"bob"`)
}

func TestRestore_RejectsMalformedLines(t *testing.T) {
	target := newTestClient(t, nil, nil)
	ctx := context.Background()

	_, err := Restore(ctx, target, strings.NewReader("not json\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "line 1")

	_, err = Restore(ctx, target, strings.NewReader(`{"content": ""}`+"\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRestore_AssignsMissingIDs(t *testing.T) {
	target := newTestClient(t, nil, nil)
	ctx := context.Background()

	record := `{"content": "imported fact", "user_id": "alice", "embedding": [1, 0, 0, 0]}`
	restored, err := Restore(ctx, target, strings.NewReader(record+"\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), restored)

	memories, err := target.GetAll(ctx, WithUserIDForGetAll("alice"))
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.NotZero(t, memories[0].ID)
	assert.Equal(t, "imported fact", memories[0].Content)
}
