package account

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Protocol misuse of a FetchRequest. These are raised as panics.
var (
	ErrFetchCompleted     = errors.New("account: fetch request already completed")
	ErrCreationNotAllowed = errors.New("account: fetch request does not allow account creation")
	ErrCreationRequired   = errors.New("account: fetch request allows creation, the account should have been created")
	ErrNilAccount         = errors.New("account: fetch request completed with a nil account")
)

type FetchState int

const (
	FetchPending FetchState = iota
	FetchLoaded
	FetchCreated
	FetchNotLoaded
)

func (s FetchState) String() string {
	switch s {
	case FetchLoaded:
		return "loaded"
	case FetchCreated:
		return "created"
	case FetchNotLoaded:
		return "not_loaded"
	default:
		return "pending"
	}
}

// FetchRequest is a single-use account lookup. It completes exactly once, as
// loaded, created or not loaded.
type FetchRequest struct {
	identity      uuid.UUID
	allowCreation bool
	shouldCache   bool
	requestedAt   time.Time

	mu         sync.Mutex
	state      FetchState
	account    *Account
	loadedFrom string
}

func NewFetchRequest(identity uuid.UUID, allowCreation, shouldCache bool) *FetchRequest {
	return &FetchRequest{
		identity:      identity,
		allowCreation: allowCreation,
		shouldCache:   shouldCache,
		requestedAt:   time.Now(),
	}
}

func (r *FetchRequest) Identity() uuid.UUID    { return r.identity }
func (r *FetchRequest) AllowCreation() bool    { return r.allowCreation }
func (r *FetchRequest) ShouldCache() bool      { return r.shouldCache }
func (r *FetchRequest) RequestedAt() time.Time { return r.requestedAt }

func (r *FetchRequest) State() FetchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *FetchRequest) Done() bool { return r.State() != FetchPending }

// Account returns the resolved account, nil unless loaded or created.
func (r *FetchRequest) Account() *Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

// LoadedFrom describes where a loaded account came from.
func (r *FetchRequest) LoadedFrom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedFrom
}

// Loaded completes the request with an existing account.
func (r *FetchRequest) Loaded(acc *Account, from string) {
	if acc == nil {
		panic(ErrNilAccount)
	}
	r.complete(FetchLoaded, acc, from)
}

// Created completes the request with a freshly created account.
func (r *FetchRequest) Created(acc *Account) {
	if acc == nil {
		panic(ErrNilAccount)
	}
	if !r.allowCreation {
		panic(ErrCreationNotAllowed)
	}
	r.complete(FetchCreated, acc, "")
}

// NotLoaded completes the request without an account. It is only valid when creation is not allowed.
func (r *FetchRequest) NotLoaded() {
	if r.allowCreation {
		panic(ErrCreationRequired)
	}
	r.complete(FetchNotLoaded, nil, "")
}

func (r *FetchRequest) complete(state FetchState, acc *Account, from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != FetchPending {
		panic(ErrFetchCompleted)
	}
	r.state = state
	r.account = acc
	r.loadedFrom = from
}
