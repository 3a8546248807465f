package response_test

import (
	"encoding/json/v2"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chimeapp/chime-server/internal/errors"
	"github.com/chimeapp/chime-server/internal/http/response"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Success(rec, map[string]int{"minutes": 5}, slog.New(slog.DiscardHandler))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Empty(t, env.Error)
	assert.NotNil(t, env.Data)
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	response.BadRequest(rec, "unknown action", slog.New(slog.DiscardHandler))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "unknown action", env.Error)
}

func TestHandleErrorMapsDomainCodes(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
	}{
		{apperrors.Validation("bad input"), http.StatusBadRequest},
		{apperrors.NotFound("no such thing"), http.StatusNotFound},
		{apperrors.Unavailable("backend down"), http.StatusServiceUnavailable},
		{apperrors.Internal("boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		response.HandleError(rec, tc.err, slog.New(slog.DiscardHandler))
		assert.Equal(t, tc.wantStatus, rec.Code)
		assert.False(t, decode(t, rec).Success)
	}
}

func TestHandleErrorCarriesFieldDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := apperrors.ValidationWithDetails("validation failed", map[string]string{"minutes": "must be positive"})
	response.HandleError(rec, err, slog.New(slog.DiscardHandler))

	env := decode(t, rec)
	assert.Equal(t, "validation failed", env.Error)
	assert.Equal(t, "must be positive", env.Details["minutes"])
}

func TestNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	response.NoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}
