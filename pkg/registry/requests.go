package registry

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/greenprompt/registry/pkg/types"
)

// SubmitPayload is a measurement submission: one request per configuration.
type SubmitPayload struct {
	LLMs          []types.LLMConfig
	MeasurementID int64
}

// Receipt pairs a freshly created request id with the configuration it
// carries.
type Receipt struct {
	RequestID string
	LLMConfig types.LLMConfig
}

// RequestView is a request row joined with its parsed configuration.
type RequestView struct {
	RequestID     string
	LLMConfig     types.LLMConfig
	Status        types.RequestStatus
	MeasurementID int64
	Address       string
}

// Submit persists one queued request per configuration, creating the
// measurement on first contact. The measurement insert is idempotent, so
// repeated submissions under the same id only append requests.
func (r *Registry) Submit(payload SubmitPayload) ([]Receipt, error) {
	if payload.MeasurementID <= 0 {
		return nil, fmt.Errorf("measurement id must be positive: %w", ErrInvalidState)
	}
	if len(payload.LLMs) == 0 {
		return nil, fmt.Errorf("at least one llm configuration is required: %w", ErrInvalidState)
	}
	for _, llmConfig := range payload.LLMs {
		if err := llmConfig.Validate(); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidState)
		}
	}

	if err := r.store.AddMeasurement(payload.MeasurementID); err != nil {
		return nil, fmt.Errorf("failed to add measurement %d: %w", payload.MeasurementID, err)
	}

	receipts := make([]Receipt, 0, len(payload.LLMs))
	for _, llmConfig := range payload.LLMs {
		blob, err := llmConfig.Encode()
		if err != nil {
			return nil, err
		}
		requestID := uuid.New().String()
		if err := r.store.AddRequest(requestID, blob, payload.MeasurementID); err != nil {
			return nil, fmt.Errorf("failed to add request: %w", err)
		}
		r.logger.Info().
			Str("request_id", requestID).
			Int64("measurement_id", payload.MeasurementID).
			Str("model", llmConfig.Model).
			Msg("Queued deployment request")
		receipts = append(receipts, Receipt{RequestID: requestID, LLMConfig: llmConfig})
	}
	return receipts, nil
}

// GetRequest returns a request row with its configuration parsed back into
// structured form.
func (r *Registry) GetRequest(requestID string) (*RequestView, error) {
	request, err := r.store.GetRequest(requestID)
	if err != nil {
		return nil, err
	}
	llmConfig, err := types.DecodeLLMConfig(request.LLMConfig)
	if err != nil {
		return nil, err
	}
	return &RequestView{
		RequestID:     request.ID,
		LLMConfig:     llmConfig,
		Status:        request.Status,
		MeasurementID: request.MeasurementID,
		Address:       request.Address,
	}, nil
}

// Release frees the wrapper bound to a request once the client is done
// prompting. The wrapper must currently be prompting; it moves to not_ready
// for the health loop to re-admit, and the measurement drops back to
// deployments_pending so its next queued request can be serviced.
func (r *Registry) Release(requestID string) error {
	request, err := r.store.GetRequest(requestID)
	if err != nil {
		return err
	}
	if request.Address == "" {
		return fmt.Errorf("request %s has no wrapper bound: %w", requestID, ErrInvalidState)
	}

	wrapper, err := r.store.GetWrapperByAddress(request.Address)
	if err != nil {
		return err
	}
	if wrapper.Status != types.WrapperStatusPrompting {
		return fmt.Errorf("wrapper %s is %s, not prompting: %w", wrapper.Address, wrapper.Status, ErrInvalidState)
	}

	if err := r.store.SetWrapperStatus(wrapper.ID, types.WrapperStatusNotReady); err != nil {
		return err
	}
	if err := r.store.SetMeasurementStatus(request.MeasurementID, types.MeasurementStatusDeploymentsPending); err != nil {
		return err
	}

	r.logger.Info().
		Str("request_id", requestID).
		Str("wrapper", wrapper.Address).
		Int64("measurement_id", request.MeasurementID).
		Msg("Released wrapper")
	return nil
}
