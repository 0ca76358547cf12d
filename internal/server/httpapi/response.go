package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	accountdomain "pharma/backend/internal/account/domain"
	"pharma/backend/internal/autherr"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/mail"
	userdomain "pharma/backend/internal/user/domain"
)

// Envelope is the body of every non-data response.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Messages returned to clients. Failures never echo internal error text.
const (
	msgLoginOK          = "Login successful"
	msgLogoutOK         = "Logout successful"
	msgRefreshOK        = "Token refreshed"
	msgUserCreated      = "User created successfully"
	msgAccountConfirmed = "Account confirmed successfully"
	msgResetMailSent    = "Please check your email and follow the link to reset your password. If you don't see it, check your spam folder."
	msgPasswordUpdated  = "Password updated successfully"
	msgUserDeleted      = "User deleted successfully"
	msgWrongPassword    = "Wrong password"
	msgNotConfirmed     = "Your account isn't confirmed yet. Please check your email to verify it."
	msgUserNotFound     = "User with this email not found"
	msgCodeNotFound     = "Invalid confirmation code"
	msgCodeUsed         = "Link already used"
	msgCodeExpired      = "Link expired"
	msgEmailTaken       = "Email already exists"
	msgMailFailed       = "Email send failed. Please try again."
	msgRefreshMissing   = "Refresh token not found"
	msgRefreshInvalid   = "Invalid refresh token"
	msgRefreshExpired   = "Refresh token expired"
	msgAccessExpired    = "Token expired"
	msgNotAuthenticated = "Could not validate credentials"
	msgInternal         = "Internal Server Error"
	msgTooManyRequests  = "Too many requests, please try again later"
	msgBadRequest       = "Invalid request"
)

func respond(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Status: status, Message: message})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Status: status, Message: message})
}

// writeFailure maps err to a status and a fixed message. notFound is the message for
// autherr.ErrNotFound on this route. Unexpected errors were already captured by the service
// that produced them; here they are only logged and answered with a generic 500.
func writeFailure(c *gin.Context, err error, notFound string) {
	status, msg := classify(err, notFound)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("httpapi: request failed")
	}
	respond(c, status, msg)
}

func classify(err error, notFound string) (int, string) {
	switch {
	case errors.Is(err, autherr.ErrBadCredentials):
		return http.StatusBadRequest, msgWrongPassword
	case errors.Is(err, autherr.ErrAccountNotConfirmed):
		return http.StatusBadRequest, msgNotConfirmed
	case errors.Is(err, autherr.ErrTokenExpired):
		return http.StatusUnauthorized, msgRefreshExpired
	case errors.Is(err, autherr.ErrTokenReused), errors.Is(err, autherr.ErrTokenInvalid):
		return http.StatusUnauthorized, msgRefreshInvalid
	case errors.Is(err, autherr.ErrNotFound):
		return http.StatusNotFound, notFound
	case errors.Is(err, userdomain.ErrEmailTaken):
		return http.StatusBadRequest, msgEmailTaken
	case errors.Is(err, userdomain.ErrInvalidUser),
		errors.Is(err, accountdomain.ErrWeakPassword),
		errors.Is(err, accountdomain.ErrPasswordMismatch):
		return http.StatusBadRequest, publicMessage(err)
	case errors.Is(err, accountdomain.ErrTokenUsed):
		return http.StatusBadRequest, msgCodeUsed
	case errors.Is(err, accountdomain.ErrTokenExpired):
		return http.StatusBadRequest, msgCodeExpired
	case errors.Is(err, mail.ErrDelivery):
		return http.StatusBadGateway, msgMailFailed
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// publicMessage returns the text of a validation error, which carries no internal detail.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, accountdomain.ErrWeakPassword):
		return accountdomain.ErrWeakPassword.Error()
	case errors.Is(err, accountdomain.ErrPasswordMismatch):
		return accountdomain.ErrPasswordMismatch.Error()
	}
	return err.Error()
}
