package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInvalidClientRequest, http.StatusBadRequest},
		{KindInvalidArgs, http.StatusBadRequest},
		{KindBackendAuth, http.StatusUnauthorized},
		{KindBackendRateLimited, http.StatusTooManyRequests},
		{KindBackendServerError, http.StatusBadGateway},
		{KindBackendProtocol, http.StatusBadGateway},
		{KindInternalError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.HTTPStatus(), c.kind)
	}
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindBackendServerError, "upstream unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upstream unreachable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestInternal_NeverLeaksCauseInClientBody(t *testing.T) {
	cause := errors.New("panic: nil map write at transform.go:42")
	err := Internal(cause)

	assert.NotEmpty(t, err.IncidentID)

	body := err.ClientBody()
	errObj := body["error"].(map[string]any)
	msg := errObj["message"].(string)

	assert.Contains(t, msg, err.IncidentID)
	assert.NotContains(t, msg, "nil map write")
	assert.NotContains(t, msg, "transform.go")
}

func TestClientBody_BackendAuthDoesNotLeakMessage(t *testing.T) {
	err := New(KindBackendAuth, "xai returned 401 with body {\"secret\":\"leaked\"}")
	body := err.ClientBody()
	errObj := body["error"].(map[string]any)
	msg := errObj["message"].(string)

	assert.NotContains(t, msg, "leaked")
	assert.Equal(t, string(KindBackendAuth), errObj["type"])
}
