package workflow

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

// Failure sentinels, one per step that can fail on its own.
var (
	ErrLoginFailed          = errors.New("login failed")
	ErrMessageFailed        = errors.New("message failed")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrOfferFailed          = errors.New("offer failed")
)

// ConfigError rejects a run before the browser is touched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StepError is a failure of one workflow step. It matches both its kind
// sentinel and its cause with errors.Is.
type StepError struct {
	Step         string
	Kind         error
	LastSelector string
	// SelectorsTried is the chain of the last resolution, in try order.
	SelectorsTried []string
	Err            error
}

// newStepError builds a StepError that records the resolver's last attempt.
func newStepError(step string, kind error, attempt selectors.Attempt, err error) *StepError {
	return &StepError{
		Step:           step,
		Kind:           kind,
		LastSelector:   attempt.Last(),
		SelectorsTried: attempt.Tried,
		Err:            err,
	}
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
