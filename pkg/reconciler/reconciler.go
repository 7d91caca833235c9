package reconciler

import (
	"context"
	"time"

	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/metrics"
	"github.com/greenprompt/registry/pkg/registry"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/rs/zerolog"
)

// Reconciler keeps each wrapper's persisted status in line with its real
// status and drives install and restart recovery.
type Reconciler struct {
	registry *registry.Registry
	store    storage.Store
	logger   zerolog.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReconciler creates a new health loop over the registry.
func NewReconciler(reg *registry.Registry) *Reconciler {
	return &Reconciler{
		registry: reg,
		store:    reg.Store(),
		logger:   log.WithComponent("reconciler"),
		interval: reg.Config().HealthInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the current iteration to finish.
// Background install/restart tasks keep running; the registry's Shutdown
// bounds the wait for those.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Msg("Health loop started")

	r.reconcile()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("Health loop stopped")
			return
		}
	}
}

// reconcile performs one cycle. The snapshot and the recovery transitions
// run under the loop mutex; status polls are remote calls and run after it
// is released so one slow host cannot stall the dispatch loop.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.registry.LockLoop()
	wrappers, err := r.store.ListWrappers()
	if err != nil {
		r.registry.UnlockLoop()
		r.logger.Error().Err(err).Msg("Failed to list wrappers")
		return
	}

	var pollable []*types.Wrapper
	for _, wrapper := range wrappers {
		switch {
		case wrapper.Status == types.WrapperStatusFailure:
			r.recoverWrapper(wrapper)
		case wrapper.Status == types.WrapperStatusNotInstalled:
			r.installWrapper(wrapper)
		case !wrapper.Status.Pollable():
			continue
		default:
			pollable = append(pollable, wrapper)
		}
	}
	r.registry.UnlockLoop()

	for _, wrapper := range pollable {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.pollWrapper(wrapper)
	}
}

// recoverWrapper moves a failed wrapper to restarting and restarts it in the
// background: not_ready on success, unresponsive when the host stopped
// cooperating.
func (r *Reconciler) recoverWrapper(wrapper *types.Wrapper) {
	r.logger.Info().Str("wrapper", wrapper.Address).Msg("Restarting failed wrapper")
	if err := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusRestarting); err != nil {
		r.logger.Error().Err(err).Str("wrapper", wrapper.Address).Msg("Failed to mark wrapper restarting")
		return
	}

	adapter := r.registry.Adapter(wrapper)
	id, address := wrapper.ID, wrapper.Address
	r.registry.Go(func() {
		if err := adapter.Restart(context.Background()); err != nil {
			metrics.RestartsTotal.WithLabelValues("failure").Inc()
			r.logger.Error().Err(err).Str("wrapper", address).Msg("Wrapper restart failed")
			r.setStatus(id, address, types.WrapperStatusUnresponsive)
			return
		}
		metrics.RestartsTotal.WithLabelValues("success").Inc()
		r.logger.Info().Str("wrapper", address).Msg("Wrapper restarted")
		r.setStatus(id, address, types.WrapperStatusNotReady)
	})
}

// installWrapper provisions a bare host in the background.
func (r *Reconciler) installWrapper(wrapper *types.Wrapper) {
	r.logger.Info().Str("wrapper", wrapper.Address).Msg("Installing wrapper")
	if err := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusInstalling); err != nil {
		r.logger.Error().Err(err).Str("wrapper", wrapper.Address).Msg("Failed to mark wrapper installing")
		return
	}

	adapter := r.registry.Adapter(wrapper)
	address := wrapper.Address
	r.registry.Go(func() {
		if err := adapter.Install(context.Background()); err != nil {
			metrics.InstallsTotal.WithLabelValues("failure").Inc()
			r.logger.Error().Err(err).Str("wrapper", address).Msg("Wrapper installation failed")
			if err := r.store.SetWrapperStatusByAddress(address, types.WrapperStatusUnresponsive); err != nil {
				r.logger.Error().Err(err).Str("wrapper", address).Msg("Failed to update wrapper status")
			}
			return
		}
		metrics.InstallsTotal.WithLabelValues("success").Inc()
		r.logger.Info().Str("wrapper", address).Msg("Wrapper installed")
		if err := r.store.SetWrapperStatusByAddress(address, types.WrapperStatusNotReady); err != nil {
			r.logger.Error().Err(err).Str("wrapper", address).Msg("Failed to update wrapper status")
		}
	})
}

// pollWrapper asks the host for its self-assessed status and persists it. A
// transport failure counts as unresponsive. The poll runs outside the loop
// mutex, so the persisted state may have moved on since the snapshot; the
// write is skipped if the wrapper is no longer in a pollable state.
func (r *Reconciler) pollWrapper(wrapper *types.Wrapper) {
	status, err := r.registry.Adapter(wrapper).Status(context.Background())
	if err != nil {
		r.logger.Warn().Err(err).Str("wrapper", wrapper.Address).Msg("Status poll failed")
		status = types.WrapperStatusUnresponsive
	}

	r.registry.LockLoop()
	defer r.registry.UnlockLoop()

	current, err := r.store.GetWrapper(wrapper.ID)
	if err != nil {
		r.logger.Error().Err(err).Str("wrapper", wrapper.Address).Msg("Failed to re-read wrapper")
		return
	}
	if !current.Status.Pollable() {
		// An in-flight transition took over while the poll was on the wire.
		r.logger.Debug().
			Str("wrapper", wrapper.Address).
			Str("status", string(current.Status)).
			Msg("Skipping poll result for non-pollable wrapper")
		return
	}
	if err := r.store.SetWrapperStatus(wrapper.ID, status); err != nil {
		r.logger.Error().Err(err).Str("wrapper", wrapper.Address).Msg("Failed to update wrapper status")
	}
}

func (r *Reconciler) setStatus(id int64, address string, status types.WrapperStatus) {
	if err := r.store.SetWrapperStatus(id, status); err != nil {
		r.logger.Error().Err(err).Str("wrapper", address).Msg("Failed to update wrapper status")
	}
}
