package quest

import (
	"context"
	"errors"
)

// Reward is granted when a stage ends. Give may be slow when Async reports true;
// it is then called off the main loop.
type Reward interface {
	Async() bool
	// Give returns human-readable descriptions of what was granted.
	Give(ctx context.Context, subj Subject) ([]string, error)
}

// RewardList is the ordered rewards of a stage.
type RewardList []Reward

// HasAsync reports whether any reward must run off the main loop.
func (l RewardList) HasAsync() bool {
	for _, r := range l {
		if r.Async() {
			return true
		}
	}
	return false
}

// Apply gives every reward in order and stops at the first error.
// ErrInterruptBranch is passed through as is.
func (l RewardList) Apply(ctx context.Context, subj Subject) ([]string, error) {
	var given []string
	for _, r := range l {
		out, err := r.Give(ctx, subj)
		given = append(given, out...)
		if err != nil {
			return given, err
		}
	}
	return given, nil
}

// Requirement is a predicate checked before a signalled stage may finish.
type Requirement interface {
	Test(ctx context.Context, subj Subject) bool
}

// Actionable requirements also act when their stage ends (consume items, ...).
type Actionable interface {
	Requirement
	Trigger(ctx context.Context, subj Subject) error
}

// IsInterrupt reports whether err stops branch progression on purpose.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterruptBranch)
}
