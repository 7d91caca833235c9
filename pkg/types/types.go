package types

import (
	"encoding/json"
	"fmt"
)

// Wrapper represents a remote host that can hold one deployed model at a time.
type Wrapper struct {
	ID        int64         `json:"id"`
	LLM       string        `json:"llm"`
	LLMConfig string        `json:"llm_config"`
	Address   string        `json:"address"`
	Username  string        `json:"username"`
	Password  string        `json:"password"`
	Status    WrapperStatus `json:"status"`
}

// WrapperStatus represents the current state of a wrapper host
type WrapperStatus string

const (
	WrapperStatusNotInstalled WrapperStatus = "not_installed"
	WrapperStatusInstalling   WrapperStatus = "installing"
	WrapperStatusIdle         WrapperStatus = "idle"
	WrapperStatusDeploying    WrapperStatus = "deploying"
	WrapperStatusReady        WrapperStatus = "ready"
	WrapperStatusPrompting    WrapperStatus = "prompting"
	WrapperStatusStopping     WrapperStatus = "stopping"
	WrapperStatusNotReady     WrapperStatus = "not_ready"
	WrapperStatusRestarting   WrapperStatus = "restarting"
	WrapperStatusFailure      WrapperStatus = "failure"
	WrapperStatusUnresponsive WrapperStatus = "unresponsive"
)

// AllWrapperStatuses enumerates every wrapper state, for metrics and validation.
var AllWrapperStatuses = []WrapperStatus{
	WrapperStatusNotInstalled,
	WrapperStatusInstalling,
	WrapperStatusIdle,
	WrapperStatusDeploying,
	WrapperStatusReady,
	WrapperStatusPrompting,
	WrapperStatusStopping,
	WrapperStatusNotReady,
	WrapperStatusRestarting,
	WrapperStatusFailure,
	WrapperStatusUnresponsive,
}

// Valid reports whether s is a known wrapper status.
func (s WrapperStatus) Valid() bool {
	for _, known := range AllWrapperStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Pollable reports whether the health loop may overwrite s with a polled
// value. States that mark an in-flight transition (deploying, stopping,
// restarting, installing), an active prompting session, or a host that
// stopped answering must never be clobbered by a poll result.
func (s WrapperStatus) Pollable() bool {
	switch s {
	case WrapperStatusPrompting,
		WrapperStatusStopping,
		WrapperStatusRestarting,
		WrapperStatusDeploying,
		WrapperStatusInstalling,
		WrapperStatusUnresponsive:
		return false
	}
	return true
}

// Request represents one model-configuration slot the registry must place on
// some wrapper. Address is empty until the request is bound.
type Request struct {
	ID            string        `json:"id"`
	LLMConfig     string        `json:"llm_config"`
	Status        RequestStatus `json:"status"`
	MeasurementID int64         `json:"measurement_id"`
	Address       string        `json:"address"`
	Seq           uint64        `json:"seq"` // insertion order within the store
}

// RequestStatus represents the state of a request
type RequestStatus string

const (
	RequestStatusQueued    RequestStatus = "queued"
	RequestStatusDeployed  RequestStatus = "deployed"
	RequestStatusPrompting RequestStatus = "prompting"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusFailure   RequestStatus = "failure"
)

// AllRequestStatuses enumerates every request state.
var AllRequestStatuses = []RequestStatus{
	RequestStatusQueued,
	RequestStatusDeployed,
	RequestStatusPrompting,
	RequestStatusCompleted,
	RequestStatusFailure,
}

// Measurement is a client-visible job aggregating N requests. WrapperID is
// zero while no wrapper is bound.
type Measurement struct {
	ID        int64             `json:"id"`
	Status    MeasurementStatus `json:"status"`
	WrapperID int64             `json:"wrapper_id"`
}

// MeasurementStatus represents the state of a measurement
type MeasurementStatus string

const (
	MeasurementStatusDeploymentsPending MeasurementStatus = "deployments_pending"
	MeasurementStatusPrompting          MeasurementStatus = "prompting"
	MeasurementStatusFinished           MeasurementStatus = "finished"
	MeasurementStatusFailed             MeasurementStatus = "failed"
)

// AllMeasurementStatuses enumerates every measurement state.
var AllMeasurementStatuses = []MeasurementStatus{
	MeasurementStatusDeploymentsPending,
	MeasurementStatusPrompting,
	MeasurementStatusFinished,
	MeasurementStatusFailed,
}

// Args carries the free-form prompting and deployment parameters of a model
// configuration.
type Args struct {
	Prompting  map[string]any `json:"prompting" yaml:"prompting"`
	Deployment map[string]any `json:"deployment" yaml:"deployment"`
}

// LLMConfig describes one model configuration a client wants deployed.
type LLMConfig struct {
	Modeltyp         string `json:"modeltyp" yaml:"modeltyp"`
	Model            string `json:"model" yaml:"model"`
	UsesChatTemplate bool   `json:"uses_chat_template" yaml:"uses_chat_template"`
	Args             Args   `json:"args" yaml:"args"`
}

// Validate checks the fields a deployment cannot do without.
func (c LLMConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("llm config: model name cannot be empty")
	}
	if c.Modeltyp == "" {
		return fmt.Errorf("llm config: modeltyp must be provided")
	}
	return nil
}

// Encode serializes the configuration into the canonical blob stored on
// wrappers and requests. The blob doubles as the equality key for zero-cost
// matching, so encoding must be deterministic; json.Marshal emits struct
// fields in declaration order and sorts map keys.
func (c LLMConfig) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode llm config: %w", err)
	}
	return string(data), nil
}

// DecodeLLMConfig parses a blob produced by Encode.
func DecodeLLMConfig(blob string) (LLMConfig, error) {
	var c LLMConfig
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return c, fmt.Errorf("failed to decode llm config: %w", err)
	}
	return c, nil
}
