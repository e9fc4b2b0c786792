package orchestrator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the state of one workflow run.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRunning         Status = "RUNNING"
	StatusCompleted       Status = "COMPLETED"
	StatusPartiallyFailed Status = "PARTIALLY_FAILED"
	StatusFailed          Status = "FAILED"
)

// Policy decides what a step failure does to the rest of the run.
type Policy string

const (
	// PolicyHard aborts the run. It is the default.
	PolicyHard Policy = "hard"
	// PolicySoft records the failure and continues with the next step.
	PolicySoft Policy = "soft"
)

// InputMapping computes a step's args from everything bound so far.
type InputMapping func(c Context) ([]string, error)

type Step struct {
	Name     string
	Provider string
	Action   string
	Input    InputMapping
	Policy   Policy
}

// PersistSpec controls the single write made when a run finishes.
type PersistSpec struct {
	Skip bool
	// KeyPrefix defaults to the workflow name.
	KeyPrefix string
	// KeyField names the payload value normalized into the key. When unset
	// or empty the run ID is used.
	KeyField string
	// Fields limits the persisted context to these keys. Empty means all.
	Fields   []string
	Category string
}

type Definition struct {
	Name        string
	Description string
	// Requires lists payload keys that must be present and non-empty.
	Requires []string
	Steps    []Step
	Persist  PersistSpec
}

// StepFailure is bound into the context in place of a failed step's output.
type StepFailure struct {
	Error string `json:"error"`
}

// Context holds the payload and each finished step's output or StepFailure.
// A step bound under the same name as a payload key replaces it.
type Context map[string]any

// String renders a value for use as an argument. Missing keys and failed
// steps render as "".
func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case nil, StepFailure:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// Failed reports whether step is bound to a StepFailure.
func (c Context) Failed(step string) bool {
	_, ok := c[step].(StepFailure)
	return ok
}

// Has reports whether key is bound to a usable value.
func (c Context) Has(key string) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return false
	}
	_, failed := v.(StepFailure)
	return !failed
}

func (c Context) clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StepRecord traces one executed step.
type StepRecord struct {
	Name     string        `json:"name"`
	Provider string        `json:"provider"`
	Action   string        `json:"action"`
	Args     []string      `json:"args,omitempty"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Result struct {
	RunID        string       `json:"run_id"`
	Workflow     string       `json:"workflow"`
	Status       Status       `json:"status"`
	Context      Context      `json:"context"`
	FailedSteps  []string     `json:"failed_steps,omitempty"`
	Steps        []StepRecord `json:"steps,omitempty"`
	Error        string       `json:"error,omitempty"`
	Cancelled    bool         `json:"cancelled,omitempty"`
	PersistedKey string       `json:"persisted_key,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// OK reports whether the run reached COMPLETED or PARTIALLY_FAILED.
func (r *Result) OK() bool {
	return r.Status == StatusCompleted || r.Status == StatusPartiallyFailed
}

// Summary is a one-line human-readable outcome.
func (r *Result) Summary() string {
	switch r.Status {
	case StatusCompleted:
		return fmt.Sprintf("workflow %s completed (%d steps)", r.Workflow, len(r.Steps))
	case StatusPartiallyFailed:
		return fmt.Sprintf("workflow %s partially failed: %v", r.Workflow, r.FailedSteps)
	default:
		return fmt.Sprintf("workflow %s failed: %s", r.Workflow, r.Error)
	}
}
