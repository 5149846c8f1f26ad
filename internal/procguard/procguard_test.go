package procguard

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbe_OccupiedBySelf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(instanceHeader, "1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, OccupiedBySelf, Probe(u.Host))
}

func TestProbe_OccupiedByOther(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	assert.Equal(t, OccupiedByOther, Probe(u.Host))
}

func TestProbe_PortFree(t *testing.T) {
	assert.Equal(t, PortFree, Probe("127.0.0.1:1"))
}
