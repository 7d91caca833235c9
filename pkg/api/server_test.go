package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenprompt/registry/pkg/config"
	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/registry"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/greenprompt/registry/pkg/wrapperclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*httptest.Server, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{DispatchInterval: 5 * time.Second, HealthInterval: 60 * time.Second}
	reg := registry.New(store, cfg, registry.WithAdapterFactory(func(address, _, _ string) wrapperclient.Adapter {
		return wrapperclient.NewFake(address)
	}))

	server := httptest.NewServer(NewServer(reg).GetHandler())
	t.Cleanup(server.Close)
	return server, store
}

func submitBody(measurementID int64, models ...string) *bytes.Reader {
	payload := RequestPayload{MeasurementID: measurementID}
	for _, model := range models {
		payload.LLMs = append(payload.LLMs, types.LLMConfig{
			Modeltyp:         "hf",
			Model:            model,
			UsesChatTemplate: true,
			Args: types.Args{
				Prompting:  map[string]any{},
				Deployment: map[string]any{},
			},
		})
	}
	body, _ := json.Marshal(payload)
	return bytes.NewReader(body)
}

func TestSubmitRequests(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/promptingservice/request", "application/json", submitBody(42, "model-a", "model-b"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var response RequestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	require.Len(t, response.Requests, 2)
	assert.NotEmpty(t, response.Requests[0].RequestID)
	assert.NotEqual(t, response.Requests[0].RequestID, response.Requests[1].RequestID)
	assert.Equal(t, "model-a", response.Requests[0].LLMConfig.Model)
}

func TestSubmitTwiceKeepsOneMeasurement(t *testing.T) {
	server, store := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp, err := http.Post(server.URL+"/promptingservice/request", "application/json", submitBody(100, "model-a", "model-b"))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	requests, err := store.ListRequestsByMeasurement(100)
	require.NoError(t, err)
	assert.Len(t, requests, 4)
	for _, request := range requests {
		assert.Equal(t, types.RequestStatusQueued, request.Status)
	}

	measurement, err := store.GetMeasurement(100)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementStatusDeploymentsPending, measurement.Status)
}

func TestSubmitValidation(t *testing.T) {
	server, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"llms": [`},
		{"missing measurement id", `{"llms": [{"modeltyp": "hf", "model": "m", "uses_chat_template": true, "args": {"prompting": {}, "deployment": {}}}]}`},
		{"empty llms", `{"llms": [], "measurementId": 5}`},
		{"empty model name", `{"llms": [{"modeltyp": "hf", "model": "", "uses_chat_template": true, "args": {"prompting": {}, "deployment": {}}}], "measurementId": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/promptingservice/request", "application/json", bytes.NewReader([]byte(tt.body)))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetRequestStatus(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/promptingservice/request", "application/json", submitBody(42, "model-a"))
	require.NoError(t, err)
	var created RequestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/promptingservice/request/" + created.Requests[0].RequestID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status RequestStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, created.Requests[0].RequestID, status.RequestID)
	assert.Equal(t, "model-a", status.LLMConfig.Model)
	assert.Equal(t, string(types.RequestStatusQueued), status.Status)
	assert.Equal(t, int64(42), status.MeasurementID)
	assert.Empty(t, status.Address)
}

func TestGetRequestNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/promptingservice/request/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReleaseRequest(t *testing.T) {
	server, store := newTestServer(t)

	wrapper := &types.Wrapper{Address: "10.0.0.1", Status: types.WrapperStatusPrompting}
	require.NoError(t, store.AddWrapper(wrapper))
	require.NoError(t, store.AddMeasurement(7))
	require.NoError(t, store.SetMeasurementStatus(7, types.MeasurementStatusPrompting))
	require.NoError(t, store.AddRequest("req-1", "cfg", 7))
	require.NoError(t, store.SetRequestAddress("req-1", "10.0.0.1"))

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/promptingservice/request/req-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got, err := store.GetWrapper(wrapper.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusNotReady, got.Status)

	measurement, err := store.GetMeasurement(7)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementStatusDeploymentsPending, measurement.Status)
}

func TestReleaseInvalidState(t *testing.T) {
	server, store := newTestServer(t)

	// The request was never deployed; releasing it must fail and change
	// nothing.
	require.NoError(t, store.AddMeasurement(7))
	require.NoError(t, store.AddRequest("req-1", "cfg", 7))

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/promptingservice/request/req-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Error)

	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusQueued, got.Status)
}

func TestReleaseNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/promptingservice/request/unknown", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/promptingservice/request")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
