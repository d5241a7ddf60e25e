package ingest

import (
	"errors"
	"fmt"
	"time"

	"image-vault/internal/logging"
	"image-vault/internal/metrics"
)

// State is the last stage a pipeline run completed.
type State int

// Pipeline states in ingest order. The crop pipeline relocates before it
// generates the thumbnail but walks the same states.
const (
	StateNone State = iota
	StateStaged
	StateValidated
	StateHashed
	StateNamesAssigned
	StateThumbnailGenerated
	StateRelocated
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateStaged:
		return "staged"
	case StateValidated:
		return "validated"
	case StateHashed:
		return "hashed"
	case StateNamesAssigned:
		return "names_assigned"
	case StateThumbnailGenerated:
		return "thumbnail_generated"
	case StateRelocated:
		return "relocated"
	case StatePersisted:
		return "persisted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type compensation struct {
	name string
	undo func() error
}

// run tracks one pipeline invocation: the state reached and the
// compensations registered along the way.
type run struct {
	pipeline string
	subject  string
	state    State
	undo     []compensation
}

func newRun(pipeline, subject string) *run {
	return &run{pipeline: pipeline, subject: subject}
}

// compensate registers an undo action. Actions are registered before the
// step that creates the artifact so a half-finished step is cleaned up too.
func (r *run) compensate(name string, undo func() error) {
	r.undo = append(r.undo, compensation{name: name, undo: undo})
}

func (r *run) advance(s State) {
	r.state = s
}

// stage times fn under the given stage label.
func (r *run) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.IngestStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// rollback runs every registered compensation newest first. Cleanup
// failures are joined into the returned error.
func (r *run) rollback() error {
	metrics.IngestRollbacks.WithLabelValues(r.state.String()).Inc()
	logging.Debug("%s rollback for %s after %s", r.pipeline, r.subject, r.state)

	var errs []error
	for i := len(r.undo) - 1; i >= 0; i-- {
		c := r.undo[i]
		if err := c.undo(); err != nil {
			logging.Error("%s rollback: %s for %s failed: %v", r.pipeline, c.name, r.subject, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	r.undo = nil
	return errors.Join(errs...)
}

// fail rolls back and returns e, attaching any cleanup failure to it.
func (r *run) fail(e *Error) *Error {
	if rbErr := r.rollback(); rbErr != nil {
		e.Err = errors.Join(e.Err, rbErr)
	}
	r.finish(e)
	return e
}

// finish records the outcome of the run.
func (r *run) finish(err error) {
	outcome := "success"
	if err != nil {
		outcome = string(CodeOf(err))
		logging.Warn("%s failed for %s at %s: %v", r.pipeline, r.subject, r.state, err)
	}
	metrics.IngestTotal.WithLabelValues(r.pipeline, outcome).Inc()
}

// commit drops the compensations of a successful run.
func (r *run) commit() {
	r.undo = nil
	r.finish(nil)
}
