// Package history keeps .diffmage/history.jsonl, a log of generated commit
// messages and their evaluations. Each line is one JSON object (Record).
// The active file holds the newest DefaultMaxRecords lines; older lines are
// moved to gzip archives (history.jsonl.N.gz) and only the newest few
// archives are kept. The report command reads evaluations back from here.
package history

import (
	"time"

	"github.com/google/uuid"

	"diffmage/cli/internal/evaluate"
)

// Record kinds.
const (
	KindGeneration = "generation"
	KindEvaluation = "evaluation"
)

// Analysis is what the pipeline saw in the staged diff.
type Analysis struct {
	ChangeType string `json:"change_type"`
	Scope      string `json:"scope,omitempty"`
	Files      int    `json:"files"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	Hunks      int    `json:"hunks"`
}

// Usage holds token counters and timing reported by the model server.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens,omitempty"`
	CompletionTokens int   `json:"completion_tokens,omitempty"`
	EvalDurationNs   int64 `json:"eval_duration_ns,omitempty"`
	TotalDurationNs  int64 `json:"total_duration_ns,omitempty"`
}

// Record is one line in .diffmage/history.jsonl.
type Record struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	RequestID string    `json:"request_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	// Fingerprint identifies the prompt; equal fingerprints mean equal inputs.
	Fingerprint string    `json:"fingerprint,omitempty"`
	Analysis    *Analysis `json:"analysis,omitempty"`
	Message     string    `json:"message"`
	Repairs     []string  `json:"repairs,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	// Committed is the SHA created by generate --commit.
	Committed  string           `json:"committed,omitempty"`
	Evaluation *evaluate.Result `json:"evaluation,omitempty"`
	Usage      *Usage           `json:"usage,omitempty"`
}

// NewRecord returns a record of kind with a fresh ID and the current time.
func NewRecord(kind string) Record {
	return Record{ID: uuid.NewString(), Kind: kind, CreatedAt: time.Now().UTC()}
}
