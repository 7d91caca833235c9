package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenprompt/registry/pkg/config"
	"github.com/greenprompt/registry/pkg/log"
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

type fakeFleet struct {
	fakes map[string]*wrapperclient.Fake
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{fakes: make(map[string]*wrapperclient.Fake)}
}

func (f *fakeFleet) factory(address, username, password string) wrapperclient.Adapter {
	if fake, ok := f.fakes[address]; ok {
		return fake
	}
	fake := wrapperclient.NewFake(address)
	f.fakes[address] = fake
	return fake
}

func newTestRegistry(t *testing.T, cfg *config.Config) (*Registry, storage.Store, *fakeFleet) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{
			DispatchInterval: 5 * time.Second,
			HealthInterval:   60 * time.Second,
		}
	}
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fleet := newFakeFleet()
	reg := New(store, cfg, WithAdapterFactory(fleet.factory))
	return reg, store, fleet
}

func TestSeedWrappers(t *testing.T) {
	cfg := &config.Config{
		Machines: []config.Machine{
			{IPAddress: "10.0.0.1", User: "ubuntu", Password: "secret"},
			{IPAddress: "10.0.0.2", User: "ubuntu", Password: "secret", Preinstalled: true},
		},
	}
	reg, store, _ := newTestRegistry(t, cfg)

	require.NoError(t, reg.SeedWrappers())

	bare, err := store.GetWrapperByAddress("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusNotInstalled, bare.Status)

	provisioned, err := store.GetWrapperByAddress("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusIdle, provisioned.Status)
}

func TestSeedWrappersIsIdempotent(t *testing.T) {
	cfg := &config.Config{
		Machines: []config.Machine{{IPAddress: "10.0.0.1", User: "ubuntu", Password: "secret"}},
	}
	reg, store, _ := newTestRegistry(t, cfg)

	require.NoError(t, reg.SeedWrappers())
	// Mimic a prior run having advanced the wrapper.
	require.NoError(t, store.SetWrapperStatusByAddress("10.0.0.1", types.WrapperStatusIdle))

	// A boot without reset keeps the persisted row.
	require.NoError(t, reg.SeedWrappers())

	wrappers, err := store.ListWrappers()
	require.NoError(t, err)
	require.Len(t, wrappers, 1)
	assert.Equal(t, types.WrapperStatusIdle, wrappers[0].Status)
}

func TestSeedWrappersEmptyRoster(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	require.NoError(t, reg.SeedWrappers())
	wrappers, err := store.ListWrappers()
	require.NoError(t, err)
	assert.Empty(t, wrappers)
}

func TestSubmitQueuesOneRequestPerConfig(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	llms := []types.LLMConfig{
		{Modeltyp: "hf", Model: "model-a", UsesChatTemplate: true},
		{Modeltyp: "hf", Model: "model-b"},
	}
	receipts, err := reg.Submit(SubmitPayload{LLMs: llms, MeasurementID: 42})
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	for i, receipt := range receipts {
		view, err := reg.GetRequest(receipt.RequestID)
		require.NoError(t, err)
		assert.Equal(t, types.RequestStatusQueued, view.Status)
		assert.Equal(t, int64(42), view.MeasurementID)
		assert.Equal(t, llms[i], view.LLMConfig)
		assert.Empty(t, view.Address)
	}

	measurement, err := store.GetMeasurement(42)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementStatusDeploymentsPending, measurement.Status)
}

func TestSubmitSameMeasurementTwice(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	llms := []types.LLMConfig{
		{Modeltyp: "hf", Model: "model-a"},
		{Modeltyp: "hf", Model: "model-b"},
	}
	_, err := reg.Submit(SubmitPayload{LLMs: llms, MeasurementID: 100})
	require.NoError(t, err)
	_, err = reg.Submit(SubmitPayload{LLMs: llms, MeasurementID: 100})
	require.NoError(t, err)

	requests, err := store.ListRequestsByMeasurement(100)
	require.NoError(t, err)
	assert.Len(t, requests, 4)
	for _, request := range requests {
		assert.Equal(t, types.RequestStatusQueued, request.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	_, err := reg.Submit(SubmitPayload{LLMs: []types.LLMConfig{{Modeltyp: "hf", Model: "m"}}, MeasurementID: 0})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = reg.Submit(SubmitPayload{LLMs: nil, MeasurementID: 1})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = reg.Submit(SubmitPayload{LLMs: []types.LLMConfig{{Modeltyp: "hf"}}, MeasurementID: 1})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGetRequestNotFound(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	_, err := reg.GetRequest("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReleaseHappyPath(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	wrapper := &types.Wrapper{Address: "10.0.0.1", Status: types.WrapperStatusPrompting}
	require.NoError(t, store.AddWrapper(wrapper))
	require.NoError(t, store.AddMeasurement(7))
	require.NoError(t, store.SetMeasurementStatus(7, types.MeasurementStatusPrompting))
	require.NoError(t, store.AddRequest("req-1", "cfg", 7))
	require.NoError(t, store.SetRequestAddress("req-1", "10.0.0.1"))

	require.NoError(t, reg.Release("req-1"))

	got, err := store.GetWrapper(wrapper.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusNotReady, got.Status)

	measurement, err := store.GetMeasurement(7)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementStatusDeploymentsPending, measurement.Status)
}

func TestReleaseRequiresPromptingWrapper(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	wrapper := &types.Wrapper{Address: "10.0.0.1", Status: types.WrapperStatusReady}
	require.NoError(t, store.AddWrapper(wrapper))
	require.NoError(t, store.AddMeasurement(7))
	require.NoError(t, store.AddRequest("req-1", "cfg", 7))
	require.NoError(t, store.SetRequestAddress("req-1", "10.0.0.1"))

	err := reg.Release("req-1")
	assert.ErrorIs(t, err, ErrInvalidState)

	// Nothing moved.
	got, err := store.GetWrapper(wrapper.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusReady, got.Status)
	measurement, err := store.GetMeasurement(7)
	require.NoError(t, err)
	assert.Equal(t, types.MeasurementStatusDeploymentsPending, measurement.Status)
}

func TestReleaseUndeployedRequest(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	require.NoError(t, store.AddMeasurement(7))
	require.NoError(t, store.AddRequest("req-1", "cfg", 7))

	assert.ErrorIs(t, reg.Release("req-1"), ErrInvalidState)
}

func TestReleaseUnknownRequest(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)
	assert.ErrorIs(t, reg.Release("missing"), storage.ErrNotFound)
}

func TestDeployToMarksFailure(t *testing.T) {
	reg, store, fleet := newTestRegistry(t, nil)

	wrapper := &types.Wrapper{Address: "10.0.0.1", Status: types.WrapperStatusIdle}
	require.NoError(t, store.AddWrapper(wrapper))

	fake := wrapperclient.NewFake("10.0.0.1")
	fake.DeployErr = wrapperclient.ErrRejected
	fleet.fakes["10.0.0.1"] = fake

	err := reg.DeployTo(context.Background(), wrapper, "cfg")
	require.Error(t, err)

	got, err := store.GetWrapper(wrapper.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusFailure, got.Status)
}

func TestStopOnSuccessIdles(t *testing.T) {
	reg, store, _ := newTestRegistry(t, nil)

	wrapper := &types.Wrapper{Address: "10.0.0.1", Status: types.WrapperStatusReady}
	require.NoError(t, store.AddWrapper(wrapper))

	require.NoError(t, reg.StopOn(context.Background(), wrapper))

	got, err := store.GetWrapper(wrapper.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WrapperStatusIdle, got.Status)
}

func TestShutdownWaitsForTasks(t *testing.T) {
	reg, _, _ := newTestRegistry(t, nil)

	done := make(chan struct{})
	reg.Go(func() {
		time.Sleep(50 * time.Millisecond)
		close(done)
	})

	reg.Shutdown(time.Second)
	select {
	case <-done:
	default:
		t.Fatal("shutdown returned before the background task finished")
	}
}
