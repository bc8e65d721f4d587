package account

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFetchRequest_Loaded(t *testing.T) {
	r := NewFetchRequest(uuid.New(), false, true)
	assert.Equal(t, FetchPending, r.State())
	assert.False(t, r.Done())

	acc := newAccount(nil, 1, r.Identity())
	r.Loaded(acc, SourceStore)

	assert.Equal(t, FetchLoaded, r.State())
	assert.Same(t, acc, r.Account())
	assert.Equal(t, SourceStore, r.LoadedFrom())
	assert.True(t, r.ShouldCache())
}

func TestFetchRequest_Created(t *testing.T) {
	r := NewFetchRequest(uuid.New(), true, false)
	r.Created(newAccount(nil, 2, r.Identity()))
	assert.Equal(t, FetchCreated, r.State())
	assert.Equal(t, "created", r.State().String())
}

func TestFetchRequest_NotLoaded(t *testing.T) {
	r := NewFetchRequest(uuid.New(), false, false)
	r.NotLoaded()
	assert.Equal(t, FetchNotLoaded, r.State())
	assert.Nil(t, r.Account())
}

func TestFetchRequest_DoubleCompletionPanics(t *testing.T) {
	r := NewFetchRequest(uuid.New(), true, false)
	acc := newAccount(nil, 1, r.Identity())
	r.Loaded(acc, SourceStore)

	assert.PanicsWithError(t, ErrFetchCompleted.Error(), func() { r.Loaded(acc, SourceStore) })
	assert.PanicsWithError(t, ErrFetchCompleted.Error(), func() { r.Created(acc) })
	assert.Equal(t, FetchLoaded, r.State())
}

func TestFetchRequest_CreatedWithoutPermissionPanics(t *testing.T) {
	r := NewFetchRequest(uuid.New(), false, false)
	assert.PanicsWithError(t, ErrCreationNotAllowed.Error(), func() {
		r.Created(newAccount(nil, 1, r.Identity()))
	})
	assert.Equal(t, FetchPending, r.State())
}

func TestFetchRequest_NotLoadedWhenCreationAllowedPanics(t *testing.T) {
	r := NewFetchRequest(uuid.New(), true, false)
	assert.PanicsWithError(t, ErrCreationRequired.Error(), func() { r.NotLoaded() })
}

func TestFetchRequest_NilAccountPanics(t *testing.T) {
	r := NewFetchRequest(uuid.New(), true, false)
	assert.PanicsWithError(t, ErrNilAccount.Error(), func() { r.Loaded(nil, SourceStore) })
}
