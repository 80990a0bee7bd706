package generate

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Stage names reported by StageError.
const (
	StageConvention = "convention"
	StageParse      = "parse"
	StageClassify   = "classify"
	StageAggregate  = "aggregate"
	StagePrompt     = "prompt"
	StageLLM        = "llm"
	StageValidate   = "validate"
)

var (
	// ErrLLMCallFailed is matched (errors.Is) by *LLMCallFailedError.
	ErrLLMCallFailed = errors.New("LLM call failed")
	// ErrNothingStaged is returned when the diff has no file changes left
	// after exclusions.
	ErrNothingStaged = errors.New("no staged changes to describe")
)

// StageError names the pipeline stage that failed. The stage's own typed
// error is available through errors.As.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// LLMCallFailedError reports a failed model call: transport error, non-2xx
// status, empty reply, or the caller's deadline. The pipeline never retries.
type LLMCallFailedError struct {
	Model string
	Cause error
}

func (e *LLMCallFailedError) Error() string {
	return fmt.Sprintf("LLM call to model %q failed: %v", e.Model, e.Cause)
}

func (e *LLMCallFailedError) Unwrap() error { return e.Cause }

func (e *LLMCallFailedError) Is(target error) bool {
	return target == ErrLLMCallFailed
}

// Stage returns the stage name of the first StageError in err's chain, or "".
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
