package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiter-project/scheduler/internal/common/armadacontext"
	"github.com/waiter-project/scheduler/internal/scheduler/schedulererrors"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, Options{ConnTimeout: time.Second, SocketTimeout: 5 * time.Second}, nil, 0, nil), server
}

func TestRequest_DecodesSuccessBody(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"replicas": 3}`))
	})

	var out struct {
		Replicas int `json:"replicas"`
	}
	err := c.Request(armadacontext.Background(), http.MethodGet, "/anything", nil, "", &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Replicas)
}

func TestRequest_404MapsToNotFound(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.Request(armadacontext.Background(), http.MethodGet, "/missing", nil, "", nil)
	require.Error(t, err)
	var notFound *schedulererrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRequest_409MapsToConflict(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := c.Request(armadacontext.Background(), http.MethodPatch, "/scale", []byte("{}"), "application/json-patch+json", nil)
	require.Error(t, err)
	var conflict *schedulererrors.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRequest_400MapsToMalformed(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := c.Request(armadacontext.Background(), http.MethodPost, "/create", []byte("{}"), "", nil)
	require.Error(t, err)
	var malformed *schedulererrors.MalformedError
	assert.ErrorAs(t, err, &malformed)
}

func TestRequest_SendsRefreshedAuthHeader(t *testing.T) {
	var gotHeader string
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
	})
	c.token.Store(strPtr("tok-1"))

	err := c.Request(armadacontext.Background(), http.MethodGet, "/x", nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotHeader)
}

func strPtr(s string) *string { return &s }

func TestStream_DecodesNewlineDelimitedEvents(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"type":"ADDED","object":{"a":1}}` + "\n"))
		_, _ = w.Write([]byte(`{"type":"DELETED","object":{"a":2}}` + "\n"))
	})

	events, err := c.Stream(armadacontext.Background(), "/watch")
	require.NoError(t, err)

	var received []WatchEvent
	for event := range events {
		received = append(received, event)
	}
	require.Len(t, received, 2)
	assert.Equal(t, "ADDED", received[0].Type)
	assert.Equal(t, "DELETED", received[1].Type)
}
