package quest

import "errors"

var (
	ErrAccountNotLoaded = errors.New("quest: account is not loaded")
	ErrUnknownQuest     = errors.New("quest: unknown quest")
	ErrUnknownPool      = errors.New("quest: unknown pool")
	ErrUnknownStage     = errors.New("quest: unknown stage")
	ErrAlreadyStarted   = errors.New("quest: quest already started")
	ErrNotStarted       = errors.New("quest: quest not started")
	ErrNotRepeatable    = errors.New("quest: quest cannot be done again")
	ErrCooldown         = errors.New("quest: quest is cooling down")
	ErrStartCancelled   = errors.New("quest: start cancelled by a hook")
	ErrStageNotActive   = errors.New("quest: stage is not active for the account")
	ErrRequirements     = errors.New("quest: stage requirements not met")
	ErrPoolCooldown     = errors.New("quest: pool is cooling down")
	ErrPoolExhausted    = errors.New("quest: pool has no quest left to give")
	ErrUnavailable      = errors.New("quest: service is shutting down")
	ErrNoEvents         = errors.New("quest: progress events are not published")

	// ErrInterruptBranch is returned by a reward to stop branch progression on purpose.
	// It is not a failure.
	ErrInterruptBranch = errors.New("quest: branch progression interrupted")
)
