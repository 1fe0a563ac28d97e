// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

// handleServiceError maps domain errors onto the API envelope.
func handleServiceError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	var transitionErr *services.InvalidTransitionError

	switch {
	case errors.As(err, &validationErr):
		utils.ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Error(), gin.H{"field": validationErr.Field})
	case errors.Is(err, services.ErrNotFound):
		utils.NotFoundResponse(c, err.Error())
	case errors.As(err, &transitionErr):
		utils.ErrorResponse(c, http.StatusConflict, "INVALID_TRANSITION", transitionErr.Error(), gin.H{
			"entity": transitionErr.Entity,
			"from":   transitionErr.From,
			"to":     transitionErr.To,
		})
	case errors.Is(err, services.ErrDuplicateCommission):
		utils.ConflictResponse(c, "DUPLICATE_COMMISSION", err.Error())
	case errors.Is(err, services.ErrConcurrencyConflict):
		utils.ConflictResponse(c, "CONCURRENCY_CONFLICT", err.Error())
	case errors.Is(err, services.ErrEmptyPayout):
		utils.UnprocessableResponse(c, "EMPTY_PAYOUT", err.Error())
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled service error")
		utils.InternalErrorResponse(c, "")
	}
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// parseOptionalUUID reads an optional query parameter. ok is false only when
// the value is present and malformed.
func parseOptionalUUID(c *gin.Context, key string) (*uuid.UUID, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+key, nil)
		return nil, false
	}
	return &id, true
}

func parseOptionalDate(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = time.Parse("2006-01-02", raw); err != nil {
			utils.BadRequestResponse(c, "Invalid "+key+", expected RFC3339 or YYYY-MM-DD", nil)
			return nil, false
		}
	}
	return &t, true
}

// bindAndValidate binds a JSON body and runs struct validation, writing the
// error response itself.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
