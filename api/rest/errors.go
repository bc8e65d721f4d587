package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/game/quest"
)

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, quest.ErrAccountNotLoaded),
		errors.Is(err, quest.ErrUnknownQuest),
		errors.Is(err, quest.ErrUnknownPool),
		errors.Is(err, quest.ErrUnknownStage):
		return http.StatusNotFound
	case errors.Is(err, quest.ErrAlreadyStarted),
		errors.Is(err, quest.ErrNotStarted),
		errors.Is(err, quest.ErrNotRepeatable),
		errors.Is(err, quest.ErrCooldown),
		errors.Is(err, quest.ErrStartCancelled),
		errors.Is(err, quest.ErrStageNotActive),
		errors.Is(err, quest.ErrPoolCooldown),
		errors.Is(err, quest.ErrPoolExhausted),
		errors.Is(err, account.ErrLeftDuringLoad):
		return http.StatusConflict
	case errors.Is(err, quest.ErrRequirements):
		return http.StatusPreconditionFailed
	case errors.Is(err, quest.ErrUnavailable),
		errors.Is(err, quest.ErrNoEvents),
		errors.Is(err, account.ErrLoadFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
