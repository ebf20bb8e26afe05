package handlers

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"contactlink/internal/logger"
)

func TestWriteJSONLogsEncodeFailureToHandlerLogger(t *testing.T) {
	var logs bytes.Buffer
	rec := httptest.NewRecorder()

	writeJSON(rec, logger.New("info", "json", &logs), http.StatusOK, map[string]float64{"value": math.Inf(1)})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, logs.String(), "failed to encode response")
}

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()

	writeError(rec, logger.Discard(), http.StatusNotFound, "Cannot GET /nope")

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Not Found","message":"Cannot GET /nope"}`, rec.Body.String())
}
