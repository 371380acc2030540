package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripletsrewards/server/internal/auth"
	"github.com/tripletsrewards/server/internal/bulkload"
	"github.com/tripletsrewards/server/internal/model"
	"github.com/tripletsrewards/server/internal/rewards"
)

func TestWriteErrorStatus(t *testing.T) {
	logger := zerolog.Nop()
	tests := []struct {
		err    error
		status int
	}{
		{auth.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("lookup: %w", rewards.ErrNotFound), http.StatusNotFound},
		{auth.ErrInvalidCredential, http.StatusUnauthorized},
		{&auth.LockedError{Reason: model.LockSelf}, http.StatusLocked},
		{auth.ErrExpired, http.StatusGone},
		{fmt.Errorf("%w: %w", auth.ErrInvalidCredential, auth.ErrExpired), http.StatusGone},
		{auth.ErrRateLimited, http.StatusTooManyRequests},
		{auth.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{bulkload.ErrNoOrganization, http.StatusPreconditionFailed},
		{auth.ErrPasswordPolicy, http.StatusBadRequest},
		{rewards.ErrInvalidInput, http.StatusBadRequest},
		{rewards.ErrConflict, http.StatusConflict},
		{auth.ErrDeliveryFailed, http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, &logger, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}

func TestWriteErrorHidesInternals(t *testing.T) {
	logger := zerolog.Nop()
	rec := httptest.NewRecorder()
	writeError(rec, &logger, errors.New("pq: password authentication failed for user rewards"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestDecodeAndValidate(t *testing.T) {
	type payload struct {
		Email  string `json:"email" validate:"required,email"`
		Action string `json:"action" validate:"required,oneof=award remove"`
	}
	tests := []struct {
		body string
		ok   bool
		msg  string
	}{
		{`{"email":"a@b.com","action":"award"}`, true, ""},
		{`{"email":"nope","action":"award"}`, false, "email must be a valid email address"},
		{`{"email":"a@b.com","action":"steal"}`, false, "action must be one of: award remove"},
		{`{"email":"a@b.com","action":"award","extra":1}`, false, "invalid request body"},
		{`not json`, false, "invalid request body"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
		var p payload
		assert.Equal(t, tt.ok, decodeAndValidate(rec, req, &p), tt.body)
		if !tt.ok {
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.msg, body["error"])
		}
	}
}
