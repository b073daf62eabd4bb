package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"escrowflow/auth"
	"escrowflow/chat"
	"escrowflow/directory"
	"escrowflow/notify"
	"escrowflow/transaction"
)

// httpStatus maps domain errors onto HTTP status codes. Unknown errors are
// 500s; their text is never leaked to the client.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, transaction.ErrUnauthorized),
		errors.Is(err, chat.ErrForbidden),
		errors.Is(err, notify.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, transaction.ErrNotFound),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, transaction.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, transaction.ErrNoAgentAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, transaction.ErrListingUnavailable),
		errors.Is(err, transaction.ErrOwnListing),
		errors.Is(err, directory.ErrNotAgent),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
