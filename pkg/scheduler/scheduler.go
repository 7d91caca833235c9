package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greenprompt/registry/pkg/log"
	"github.com/greenprompt/registry/pkg/metrics"
	"github.com/greenprompt/registry/pkg/registry"
	"github.com/greenprompt/registry/pkg/storage"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// Adaptive backoff: the wait grows by one second per idle iteration up
	// to the cap and snaps back as soon as an iteration found work.
	maxWait  = 10 * time.Second
	waitStep = time.Second
)

// Scheduler matches queued requests to available wrappers and issues the
// deploy and stop commands that carry the match out.
type Scheduler struct {
	registry *registry.Registry
	store    storage.Store
	logger   zerolog.Logger
	baseWait time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a new dispatch loop over the registry.
func NewScheduler(reg *registry.Registry) *Scheduler {
	return &Scheduler{
		registry: reg,
		store:    reg.Store(),
		logger:   log.WithComponent("scheduler"),
		baseWait: reg.Config().DispatchInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the dispatch loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the dispatch loop and waits for the current iteration to
// finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	s.logger.Info().Msg("Dispatch loop started")

	wait := s.baseWait
	for {
		worked := s.dispatch()

		if worked {
			wait = s.baseWait
		} else {
			wait = min(wait+waitStep, maxWait)
			s.logger.Debug().Dur("wait", wait).Msg("No work to do")
		}

		select {
		case <-time.After(wait):
		case <-s.stopCh:
			s.logger.Info().Msg("Dispatch loop stopped")
			return
		}
	}
}

// dispatch performs one cycle: zero-cost matching first, then general
// matching, both under the loop mutex that excludes the health loop. Errors
// are logged at cycle scope; one bad wrapper must not kill the loop.
func (s *Scheduler) dispatch() bool {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.DispatchDuration)
		metrics.DispatchCyclesTotal.Inc()
	}()

	s.registry.LockLoop()
	defer s.registry.UnlockLoop()

	matched, err := s.dispatchBestDeployments()
	if err != nil {
		s.logger.Error().Err(err).Msg("Zero-cost matching failed")
	}

	pending, err := s.dispatchPendingMeasurements()
	if err != nil {
		s.logger.Error().Err(err).Msg("General matching failed")
	}

	return matched > 0 || pending > 0
}

// dispatchBestDeployments handles the pairs where a ready wrapper already
// holds the exact configuration a queued request wants, so no stop/deploy
// round-trip is needed beyond the deploy confirming the hand-over.
func (s *Scheduler) dispatchBestDeployments() (int, error) {
	deployments, err := s.store.FindBestDeployments()
	if err != nil {
		return 0, fmt.Errorf("failed to find best deployments: %w", err)
	}
	if len(deployments) > 0 {
		s.logger.Info().Int("count", len(deployments)).Msg("Found zero-cost deployments")
	}

	for _, deployment := range deployments {
		request, wrapper := deployment.Request, deployment.Wrapper

		if err := s.registry.DeployTo(context.Background(), wrapper, request.LLMConfig); err != nil {
			s.logger.Error().
				Err(err).
				Str("request_id", request.ID).
				Str("wrapper", wrapper.Address).
				Msg("Zero-cost deployment failed")
			if err := s.store.SetRequestStatus(request.ID, types.RequestStatusQueued); err != nil {
				s.logger.Error().Err(err).Str("request_id", request.ID).Msg("Failed to requeue request")
			}
			continue
		}

		if err := s.bindRequest(request, wrapper); err != nil {
			s.logger.Error().Err(err).Str("request_id", request.ID).Msg("Failed to record deployment")
			continue
		}
		if err := s.store.SetMeasurementWrapper(request.MeasurementID, wrapper.ID); err != nil {
			s.logger.Error().Err(err).Int64("measurement_id", request.MeasurementID).Msg("Failed to bind measurement wrapper")
		}
	}
	return len(deployments), nil
}

// dispatchPendingMeasurements walks every measurement still waiting for
// deployments and tries to place its next queued request on a candidate
// wrapper.
func (s *Scheduler) dispatchPendingMeasurements() (int, error) {
	measurements, err := s.store.ListMeasurementsByStatus(types.MeasurementStatusDeploymentsPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending measurements: %w", err)
	}

	for _, measurement := range measurements {
		if err := s.dispatchMeasurement(measurement); err != nil {
			s.logger.Error().
				Err(err).
				Int64("measurement_id", measurement.ID).
				Msg("Failed to dispatch measurement")
		}
	}
	return len(measurements), nil
}

func (s *Scheduler) dispatchMeasurement(measurement *types.Measurement) error {
	candidates, skip, err := s.candidateWrappers(measurement)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	request, err := s.store.NextQueuedRequest(measurement.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// No queued requests left: the measurement is done.
		return s.store.SetMeasurementStatus(measurement.ID, types.MeasurementStatusFinished)
	}
	if err != nil {
		return err
	}

	for _, wrapper := range candidates {
		if wrapper.Status == types.WrapperStatusReady {
			// The wrapper holds a different configuration; unload it first.
			if err := s.registry.StopOn(context.Background(), wrapper); err != nil {
				s.logger.Error().
					Err(err).
					Str("wrapper", wrapper.Address).
					Msg("Failed to stop wrapper, trying next candidate")
				continue
			}
			wrapper.Status = types.WrapperStatusIdle
		}

		if err := s.registry.DeployTo(context.Background(), wrapper, request.LLMConfig); err != nil {
			s.logger.Error().
				Err(err).
				Str("request_id", request.ID).
				Str("wrapper", wrapper.Address).
				Msg("Deployment failed, trying next candidate")
			continue
		}

		if err := s.bindRequest(request, wrapper); err != nil {
			return err
		}
		if err := s.store.SetWrapperConfig(wrapper.ID, request.LLMConfig); err != nil {
			return err
		}
		if measurement.WrapperID == 0 {
			if err := s.store.SetMeasurementWrapper(measurement.ID, wrapper.ID); err != nil {
				return err
			}
		}
		if err := s.store.SetMeasurementStatus(measurement.ID, types.MeasurementStatusPrompting); err != nil {
			return err
		}

		s.logger.Info().
			Str("request_id", request.ID).
			Str("wrapper", wrapper.Address).
			Int64("measurement_id", measurement.ID).
			Msg("Request deployed")
		return nil
	}

	s.logger.Debug().Int64("measurement_id", measurement.ID).Msg("No candidate wrapper available")
	return nil
}

// candidateWrappers determines which wrappers may serve a measurement this
// round. A measurement with a bound wrapper sticks to it while the wrapper
// is idle or ready, and waits while the wrapper is in any other state.
// Unbound measurements take the idle pool, falling back to ready wrappers
// that can be reconfigured.
func (s *Scheduler) candidateWrappers(measurement *types.Measurement) ([]*types.Wrapper, bool, error) {
	if measurement.WrapperID != 0 {
		wrapper, err := s.store.GetWrapper(measurement.WrapperID)
		if err != nil {
			return nil, false, err
		}
		switch wrapper.Status {
		case types.WrapperStatusIdle, types.WrapperStatusReady:
			return []*types.Wrapper{wrapper}, false, nil
		default:
			return nil, true, nil
		}
	}

	idle, err := s.store.ListWrappersByStatus(types.WrapperStatusIdle)
	if err != nil {
		return nil, false, err
	}
	if len(idle) > 0 {
		return idle, false, nil
	}

	ready, err := s.store.ListWrappersByStatus(types.WrapperStatusReady)
	if err != nil {
		return nil, false, err
	}
	return ready, false, nil
}

// bindRequest records a successful deployment: the request binds to the
// wrapper's address (and becomes deployed), the wrapper enters prompting.
func (s *Scheduler) bindRequest(request *types.Request, wrapper *types.Wrapper) error {
	if err := s.store.SetRequestAddress(request.ID, wrapper.Address); err != nil {
		return err
	}
	return s.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusPrompting)
}
