package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/greenprompt/registry/pkg/config"
	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/metrics"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/greenprompt/registry/pkg/wrapperclient"
	"github.com/rs/zerolog"
)

// ErrInvalidState is returned when an operation asks for a state transition
// the wrapper state machine forbids.
var ErrInvalidState = errors.New("invalid state")

// Registry owns the persistent store, the per-host worker adapters, the
// mutex serializing the two control loops and the pool of background
// provisioning tasks. One Registry is constructed at process start and
// passed to the loops and the API.
type Registry struct {
	store      storage.Store
	cfg        *config.Config
	newAdapter wrapperclient.Factory

	adaptersMu sync.Mutex
	adapters   map[string]wrapperclient.Adapter

	// loopMu serializes the dispatch loop's iteration body against the
	// health loop's reconciliation phase.
	loopMu sync.Mutex

	tasks  sync.WaitGroup
	logger zerolog.Logger
}

// New creates a Registry over the given store. The adapter factory defaults
// to the production HTTP+SSH client; tests inject fakes through Option.
func New(store storage.Store, cfg *config.Config, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		cfg:        cfg,
		newAdapter: wrapperclient.NewAdapter,
		adapters:   make(map[string]wrapperclient.Adapter),
		logger:     log.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures a Registry.
type Option func(*Registry)

// WithAdapterFactory replaces the production adapter factory.
func WithAdapterFactory(factory wrapperclient.Factory) Option {
	return func(r *Registry) {
		r.newAdapter = factory
	}
}

// Store exposes the state store to the control loops.
func (r *Registry) Store() storage.Store {
	return r.store
}

// Config returns the startup configuration.
func (r *Registry) Config() *config.Config {
	return r.cfg
}

// LockLoop serializes a control loop's iteration body. Remote calls must not
// run while holding it, with the exception of the dispatch loop's deploy and
// stop commands whose state transitions are part of the iteration itself.
func (r *Registry) LockLoop() {
	r.loopMu.Lock()
}

// UnlockLoop releases the loop mutex.
func (r *Registry) UnlockLoop() {
	r.loopMu.Unlock()
}

// SeedWrappers writes the configured machine roster into the store. Hosts
// already present (a boot without reset_on_boot) keep their persisted row.
// Freshly added hosts start not_installed unless marked preinstalled.
func (r *Registry) SeedWrappers() error {
	if len(r.cfg.Machines) == 0 {
		r.logger.Warn().Msg("The llm_wrapper_machines list is empty; nothing will be dispatched")
	}

	for _, machine := range r.cfg.Machines {
		status := types.WrapperStatusNotInstalled
		if machine.Preinstalled {
			status = types.WrapperStatusIdle
		}

		_, err := r.store.GetWrapperByAddress(machine.IPAddress)
		if err == nil {
			r.logger.Debug().Str("wrapper", machine.IPAddress).Msg("Wrapper already registered")
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to look up wrapper %s: %w", machine.IPAddress, err)
		}

		wrapper := &types.Wrapper{
			Address:  machine.IPAddress,
			Username: machine.User,
			Password: machine.Password,
			Status:   status,
		}
		if err := r.store.AddWrapper(wrapper); err != nil {
			return fmt.Errorf("failed to register wrapper %s: %w", machine.IPAddress, err)
		}
		r.logger.Info().
			Str("wrapper", machine.IPAddress).
			Str("status", string(status)).
			Msg("Registered wrapper")
	}
	return nil
}

// Adapter returns the worker adapter for a wrapper, creating it on first
// use. Credentials come from the persisted wrapper row.
func (r *Registry) Adapter(wrapper *types.Wrapper) wrapperclient.Adapter {
	r.adaptersMu.Lock()
	defer r.adaptersMu.Unlock()

	if adapter, ok := r.adapters[wrapper.Address]; ok {
		return adapter
	}
	adapter := r.newAdapter(wrapper.Address, wrapper.Username, wrapper.Password)
	r.adapters[wrapper.Address] = adapter
	return adapter
}

// DeployTo drives one deployment attempt on a wrapper: the wrapper moves to
// deploying for the duration of the remote call and to failure if the call
// does not come back positive. Success bookkeeping (request binding,
// prompting transition) is the caller's.
func (r *Registry) DeployTo(ctx context.Context, wrapper *types.Wrapper, llmConfig string) error {
	if err := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusDeploying); err != nil {
		return err
	}

	if err := r.Adapter(wrapper).Deploy(ctx, llmConfig); err != nil {
		metrics.DeploymentsTotal.WithLabelValues("failure").Inc()
		if statusErr := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusFailure); statusErr != nil {
			r.logger.Error().Err(statusErr).Str("wrapper", wrapper.Address).Msg("Failed to mark wrapper as failed")
		}
		return fmt.Errorf("deploy on %s failed: %w", wrapper.Address, err)
	}

	metrics.DeploymentsTotal.WithLabelValues("success").Inc()
	return nil
}

// StopOn drives one stop attempt on a wrapper: stopping while the remote
// call runs, failure if it does not confirm. On success the wrapper is
// marked idle.
func (r *Registry) StopOn(ctx context.Context, wrapper *types.Wrapper) error {
	if err := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusStopping); err != nil {
		return err
	}

	if err := r.Adapter(wrapper).Stop(ctx); err != nil {
		if statusErr := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusFailure); statusErr != nil {
			r.logger.Error().Err(statusErr).Str("wrapper", wrapper.Address).Msg("Failed to mark wrapper as failed")
		}
		return fmt.Errorf("stop on %s failed: %w", wrapper.Address, err)
	}

	return r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusIdle)
}

// Go runs a background task (install, restart) tracked for shutdown.
func (r *Registry) Go(task func()) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		task()
	}()
}

// Shutdown waits for in-flight background tasks up to the given bound.
// Exceeding the bound is logged and abandoned; the tasks hold no state that
// cannot be recovered on the next boot.
func (r *Registry) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("All background tasks finished")
	case <-time.After(timeout):
		r.logger.Error().Dur("timeout", timeout).Msg("Background tasks did not finish in time")
	}
}
