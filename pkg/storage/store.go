package storage

import (
	"errors"

	"github.com/greenprompt/registry/pkg/types"
)

// ErrNotFound is returned when a wrapper, request or measurement key is
// unknown to the store.
var ErrNotFound = errors.New("not found")

// Deployment pairs a queued request with a ready wrapper already holding the
// request's exact configuration.
type Deployment struct {
	Request *types.Request
	Wrapper *types.Wrapper
}

// Store defines the interface for registry state storage
type Store interface {
	// Wrappers
	AddWrapper(wrapper *types.Wrapper) error
	GetWrapper(id int64) (*types.Wrapper, error)
	GetWrapperByAddress(address string) (*types.Wrapper, error)
	ListWrappers() ([]*types.Wrapper, error)
	ListWrappersByStatus(status types.WrapperStatus) ([]*types.Wrapper, error)
	ListWrappersByLLM(llm string) ([]*types.Wrapper, error)
	ListWrappersByConfig(config string, status types.WrapperStatus) ([]*types.Wrapper, error)
	SetWrapperStatus(id int64, status types.WrapperStatus) error
	SetWrapperStatusByAddress(address string, status types.WrapperStatus) error
	SetWrapperConfig(id int64, config string) error

	// Requests
	AddRequest(id, config string, measurementID int64) error
	GetRequest(id string) (*types.Request, error)
	ListRequestsByMeasurement(measurementID int64) ([]*types.Request, error)
	ListRequestsByStatus(status types.RequestStatus) ([]*types.Request, error)
	NextQueuedRequest(measurementID int64) (*types.Request, error)
	SetRequestAddress(id, address string) error
	SetRequestStatus(id string, status types.RequestStatus) error

	// Measurements
	AddMeasurement(id int64) error
	GetMeasurement(id int64) (*types.Measurement, error)
	ListMeasurementsByStatus(status types.MeasurementStatus) ([]*types.Measurement, error)
	SetMeasurementWrapper(id, wrapperID int64) error
	SetMeasurementStatus(id int64, status types.MeasurementStatus) error

	// Matching
	FindBestDeployments() ([]*Deployment, error)

	// Utility
	Reset() error
	Close() error
}
