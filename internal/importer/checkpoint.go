package importer

import (
	"context"
	"fmt"
	"sync"
)

// CheckpointStore persists the last contiguous committed batch per phase.
type CheckpointStore interface {
	Load(ctx context.Context, key, phase string) (int, error)
	Save(ctx context.Context, key, phase string, batch int) error
	Clear(ctx context.Context, key string) error
	ClearAll(ctx context.Context) error
}

type MemoryCheckpoints struct {
	mu   sync.Mutex
	data map[string]map[string]int
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{data: map[string]map[string]int{}}
}

func (m *MemoryCheckpoints) Load(_ context.Context, key, phase string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key][phase], nil
}

func (m *MemoryCheckpoints) Save(_ context.Context, key, phase string, batch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] == nil {
		m.data[key] = map[string]int{}
	}
	m.data[key][phase] = batch
	return nil
}

func (m *MemoryCheckpoints) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryCheckpoints) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string]map[string]int{}
	return nil
}

// checkpointKey ties a watermark to the source and to the batch geometry,
// since batch numbers only line up when both are unchanged.
func checkpointKey(sourceID string, opts Options) string {
	return fmt.Sprintf("%s|food=%d|edge=%d|merge=%t", sourceID, opts.FoodBatchSize, opts.EdgeBatchSize, opts.Merge)
}

// watermark tracks the highest batch below which every batch committed.
type watermark struct {
	mu   sync.Mutex
	next int
	done map[int]bool
}

func newWatermark(start int) *watermark {
	return &watermark{next: start + 1, done: map[int]bool{}}
}

// commit marks batch done and returns the new watermark and whether it moved.
func (w *watermark) commit(batch int) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done[batch] = true
	moved := false
	for w.done[w.next] {
		delete(w.done, w.next)
		w.next++
		moved = true
	}
	return w.next - 1, moved
}
