package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"contactlink/internal/models"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\d+\-\s()]+$`)
)

// ValidationError is a client error whose message is safe to return as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// decodeIdentifyRequest parses and validates an identify body. Unknown fields
// are ignored; email and phoneNumber may be strings, null or left out. The
// body must hold exactly one JSON value.
func decodeIdentifyRequest(body io.Reader) (models.IdentifyRequest, error) {
	dec := json.NewDecoder(body)
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return models.IdentifyRequest{}, decodeError(err)
	}
	if fields == nil {
		return models.IdentifyRequest{}, invalid("Request body must be an object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return models.IdentifyRequest{}, err
		}
		return models.IdentifyRequest{}, invalid("Invalid JSON")
	}

	email, phone := fields["email"], fields["phoneNumber"]
	if !provided(email) && !provided(phone) {
		return models.IdentifyRequest{}, invalid("At least one of email or phoneNumber must be provided")
	}

	var req models.IdentifyRequest
	var err error
	if req.Email, err = optionalString(email, "Email must be a string"); err != nil {
		return models.IdentifyRequest{}, err
	}
	if req.PhoneNumber, err = optionalString(phone, "Phone number must be a string"); err != nil {
		return models.IdentifyRequest{}, err
	}

	if v, ok := models.Present(req.Email); ok && !emailPattern.MatchString(v) {
		return models.IdentifyRequest{}, invalid("Invalid email format")
	}
	if v, ok := models.Present(req.PhoneNumber); ok && !phonePattern.MatchString(v) {
		return models.IdentifyRequest{}, invalid("Invalid phone number format")
	}
	return req, nil
}

func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &maxErr):
		return err
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return invalid("Invalid JSON")
	default:
		return invalid("Request body must be an object")
	}
}

// provided reports whether a field carries a value other than null or "".
func provided(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte(`""`))
}

func optionalString(raw json.RawMessage, message string) (*string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, invalid(message)
	}
	return &s, nil
}
