package scoring

import (
	"github.com/garyjia/lotus/internal/domain/entity"
)

// Deduper rejects tasks whose DedupKey matches an existing signature or a
// task already emitted in the same batch. It is not safe for concurrent use;
// the orchestrator aggregates results on one goroutine.
type Deduper struct {
	existing map[string]struct{}
	emitted  map[entity.DedupKey]struct{}
}

// NewDeduper creates a deduper over the caller's existing signatures
func NewDeduper(existing map[string]struct{}) *Deduper {
	if existing == nil {
		existing = map[string]struct{}{}
	}
	return &Deduper{
		existing: existing,
		emitted:  make(map[entity.DedupKey]struct{}),
	}
}

// NewDeduperFromList is NewDeduper for callers holding a signature slice
func NewDeduperFromList(signatures []string) *Deduper {
	existing := make(map[string]struct{}, len(signatures))
	for _, sig := range signatures {
		existing[sig] = struct{}{}
	}
	return NewDeduper(existing)
}

// IsDuplicate reports whether the task was seen before, without recording it
func (d *Deduper) IsDuplicate(task *entity.InferredTask) bool {
	key := task.Key()
	if _, ok := d.existing[key.String()]; ok {
		return true
	}
	_, ok := d.emitted[key]
	return ok
}

// Admit records the task and returns true, or returns false for a duplicate
func (d *Deduper) Admit(task *entity.InferredTask) bool {
	if d.IsDuplicate(task) {
		return false
	}
	d.emitted[task.Key()] = struct{}{}
	return true
}
