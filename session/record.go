package session

import (
	"context"
	"fmt"
	"time"
)

// Record is the serializable form of a finished generation.
type Record struct {
	Key         string           `json:"key"`
	ID          uint64           `json:"id"`
	RunID       string           `json:"run_id"`
	Model       string           `json:"model"`
	State       State            `json:"state"`
	Text        string           `json:"text"`
	Reasoning   string           `json:"reasoning,omitempty"`
	Error       string           `json:"error,omitempty"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RecordKey builds the store key of a generation. Ids restart with every
// process, so keys are scoped by run.
func RecordKey(runID string, id uint64) string {
	return fmt.Sprintf("%s:%d", runID, id)
}

// Clone returns a copy whose slices do not alias r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Invocations != nil {
		out.Invocations = append([]ToolInvocation(nil), r.Invocations...)
	}
	return &out
}

// Store defines the interface for generation history backends.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}
