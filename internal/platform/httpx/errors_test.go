package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		detail string
	}{
		"not found":   {WithDetail(ErrNotFound, "usuário não encontrado"), http.StatusNotFound, "usuário não encontrado"},
		"conflict":    {WithDetail(ErrConflict, "lote em processamento"), http.StatusConflict, "lote em processamento"},
		"validation":  {fmt.Errorf("%w: bad body", ErrValidation), http.StatusBadRequest, "validation failed: bad body"},
		"forbidden":   {WithDetail(ErrForbidden, "sem permissão"), http.StatusForbidden, "sem permissão"},
		"unauth":      {WithDetail(ErrUnauthorized, "authentication required"), http.StatusUnauthorized, "authentication required"},
		"unavailable": {WithDetail(ErrUnavailable, ""), http.StatusServiceUnavailable, ""},
		"internal":    {errors.New("db down"), http.StatusInternalServerError, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.status, rr.Code)
			var p ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Equal(t, tc.detail, p.Detail)
		})
	}
}

func TestWithDetailUnwraps(t *testing.T) {
	err := fmt.Errorf("users: %w", WithDetail(ErrNotFound, "usuário não encontrado"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "users: resource not found: usuário não encontrado", err.Error())
}
