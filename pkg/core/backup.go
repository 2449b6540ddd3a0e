package core

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/storage"
)

// backupBatchSize is the page size for export reads and the insert batch
// size for restore writes.
const backupBatchSize = 500

// Backup streams every memory visible to the identity as JSON lines, one
// record per line. A nil identity exports the whole collection.
func Backup(ctx context.Context, c *Client, identity *storage.Identity, w io.Writer) (int64, error) {
	const op = "Backup"
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	var exported int64
	offset := 0
	for {
		page, err := c.store.List(ctx, &storage.ListOptions{
			Identity: identity,
			Limit:    backupBatchSize,
			Offset:   offset,
			SortBy:   "id",
			Order:    "asc",
		})
		if err != nil {
			return exported, NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
		}
		for _, m := range page {
			if err := enc.Encode(m); err != nil {
				return exported, NewMemoryError(op, err)
			}
			exported++
		}
		if len(page) < backupBatchSize {
			break
		}
		offset += backupBatchSize
	}

	if err := bw.Flush(); err != nil {
		return exported, NewMemoryError(op, err)
	}
	c.logger.Info("backup complete", zap.Int64("memories", exported))
	return exported, nil
}

// Restore reads JSON-lines records produced by Backup and inserts them in
// batches. Records keep their original ids, so restoring into a non-empty
// collection can collide; restore into a fresh one.
func Restore(ctx context.Context, c *Client, r io.Reader) (int64, error) {
	const op = "Restore"
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var restored int64
	batch := make([]*storage.Memory, 0, backupBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := c.store.Insert(ctx, batch); err != nil {
			return NewMemoryError(op, fmt.Errorf("%w: %v", ErrStorageOperation, err))
		}
		restored += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m storage.Memory
		if err := json.Unmarshal(raw, &m); err != nil {
			return restored, NewMemoryError(op, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, line, err))
		}
		if m.Content == "" {
			return restored, NewMemoryError(op, fmt.Errorf("%w: line %d: empty content", ErrInvalidInput, line))
		}
		if m.ID == 0 {
			m.ID = c.node.Generate().Int64()
		}
		batch = append(batch, &m)
		if len(batch) == backupBatchSize {
			if err := flush(); err != nil {
				return restored, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return restored, NewMemoryError(op, err)
	}
	if err := flush(); err != nil {
		return restored, err
	}

	c.logger.Info("restore complete", zap.Int64("memories", restored))
	return restored, nil
}
