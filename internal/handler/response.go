package handler

import (
	"errors"
	"net/http"

	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/repo"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
)

func ok(c *gin.Context, body interface{}, message string) {
	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   body,
		"IsSuccess":      true,
		"Message":        message,
	})
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, gin.H{
		"HttpStatusCode": status,
		"ResponseBody":   nil,
		"IsSuccess":      false,
		"Message":        err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrNotSignedIn),
		errors.Is(err, service.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrEmailInUse),
		errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrChatExists):
		return http.StatusConflict
	case errors.Is(err, repo.ErrMembershipNotFound),
		errors.Is(err, repo.ErrConversationMissing):
		return http.StatusNotFound
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidPeer),
		errors.Is(err, media.ErrEmptyFile),
		errors.Is(err, repo.ErrInvalidID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
