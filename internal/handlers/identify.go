package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"contactlink/internal/models"
	"contactlink/internal/service"
)

// maxBodyBytes caps an identify request body.
const maxBodyBytes = 100 << 10

// Identifier resolves contact details to a consolidated identity.
type Identifier interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*service.Result, error)
}

// IdentifyHandler handles the /identify endpoint
type IdentifyHandler struct {
	identifier Identifier
	logger     *slog.Logger
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(identifier Identifier, logger *slog.Logger) *IdentifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentifyHandler{identifier: identifier, logger: logger}
}

// Handle processes the identify request
func (h *IdentifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	requestID := GetRequestID(ctx)

	req, err := decodeIdentifyRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeFailure(ctx, w, requestID, err)
		return
	}

	result, err := h.identifier.Identify(ctx, req)
	if err != nil {
		h.writeFailure(ctx, w, requestID, err)
		return
	}

	h.logger.InfoContext(ctx, "identify request processed",
		"request_id", requestID,
		"primary_contact_id", result.Response.Contact.PrimaryContactID,
		"outcome", string(result.Outcome),
		"processing_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, h.logger, http.StatusOK, result.Response)
}

func (h *IdentifyHandler) writeFailure(ctx context.Context, w http.ResponseWriter, requestID string, err error) {
	var validationErr *ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		h.logger.WarnContext(ctx, "identify request body too large",
			"request_id", requestID,
			"limit", maxErr.Limit,
		)
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, "Request body too large")
	case errors.As(err, &validationErr):
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"reason", validationErr.Message,
		)
		writeError(w, h.logger, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, service.ErrNoContactDetails):
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"reason", err.Error(),
		)
		writeError(w, h.logger, http.StatusBadRequest, "At least one of email or phoneNumber must be provided")
	default:
		h.logger.ErrorContext(ctx, "identify request failed",
			"request_id", requestID,
			"error", err,
		)
		writeInternalError(w, h.logger)
	}
}
