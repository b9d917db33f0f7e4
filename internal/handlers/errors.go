package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elegroag/trading-alpaca-backend/internal/models"
)

// Error codes returned in the "code" field
const (
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeBroker         = "broker_error"
	CodePartialBracket = "partial_bracket"
	CodeInternal       = "internal_error"
)

// writeError maps a typed error to its status code and JSON body.
// Unexpected errors are logged and hidden behind a generic message.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		partial  *models.PartialBracketError
		invalid  *models.ValidationError
		notFound *models.NotFoundError
		broker   *models.BrokerError
	)

	switch {
	case errors.As(err, &partial):
		placed := partial.PlacedLegIDs
		if placed == nil {
			placed = []string{}
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          partial.Error(),
			"code":           CodePartialBracket,
			"entry_order_id": partial.EntryOrderID,
			"placed_legs":    placed,
			"missing_legs":   partial.MissingLegs,
		})
	case errors.As(err, &invalid):
		body := gin.H{"error": invalid.Message, "code": CodeValidation}
		if invalid.Field != "" {
			body["field"] = invalid.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error(), "code": CodeNotFound})
	case errors.As(err, &broker):
		c.JSON(http.StatusBadGateway, gin.H{"error": broker.Reason, "code": CodeBroker})
	default:
		logger.Error("unhandled request error",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": CodeInternal})
	}
}

// bindError wraps a JSON binding failure as a ValidationError.
func bindError(err error) error {
	return models.NewValidationError("", "invalid request body: %v", err)
}
