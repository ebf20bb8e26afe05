package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIdentifyRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   string
		wantEmail *string
		wantPhone *string
	}{
		{name: "email and phone", body: `{"email":"doc@hillvalley.edu","phoneNumber":"123456"}`, wantEmail: strPtr("doc@hillvalley.edu"), wantPhone: strPtr("123456")},
		{name: "email only", body: `{"email":"doc@hillvalley.edu"}`, wantEmail: strPtr("doc@hillvalley.edu")},
		{name: "phone with null email", body: `{"email":null,"phoneNumber":"+1 (555) 010-99"}`, wantPhone: strPtr("+1 (555) 010-99")},
		{name: "empty email kept for the resolver", body: `{"email":"","phoneNumber":"1"}`, wantEmail: strPtr(""), wantPhone: strPtr("1")},
		{name: "trailing whitespace", body: "{\"phoneNumber\":\"1\"}\n\t ", wantPhone: strPtr("1")},
		{name: "unknown fields ignored", body: `{"phoneNumber":"1","name":"Marty"}`, wantPhone: strPtr("1")},

		{name: "empty body", body: ``, wantErr: "Request body must be an object"},
		{name: "array body", body: `[1,2]`, wantErr: "Request body must be an object"},
		{name: "null body", body: `null`, wantErr: "Request body must be an object"},
		{name: "malformed json", body: `{"email":`, wantErr: "Invalid JSON"},
		{name: "nothing provided", body: `{}`, wantErr: "At least one of email or phoneNumber must be provided"},
		{name: "both empty", body: `{"email":"","phoneNumber":null}`, wantErr: "At least one of email or phoneNumber must be provided"},
		{name: "numeric email", body: `{"email":42}`, wantErr: "Email must be a string"},
		{name: "numeric phone", body: `{"phoneNumber":123456}`, wantErr: "Phone number must be a string"},
		{name: "bad email", body: `{"email":"not-an-email"}`, wantErr: "Invalid email format"},
		{name: "email with spaces", body: `{"email":"doc @hillvalley.edu"}`, wantErr: "Invalid email format"},
		{name: "bad phone", body: `{"phoneNumber":"call me"}`, wantErr: "Invalid phone number format"},
		{name: "trailing object", body: `{"phoneNumber":"1"}{"phoneNumber":"2"}`, wantErr: "Invalid JSON"},
		{name: "trailing garbage", body: `{"phoneNumber":"1"} ok`, wantErr: "Invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodeIdentifyRequest(strings.NewReader(tt.body))
			if tt.wantErr != "" {
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantErr, vErr.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, req.Email)
			assert.Equal(t, tt.wantPhone, req.PhoneNumber)
		})
	}
}

func strPtr(s string) *string { return &s }
