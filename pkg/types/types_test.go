package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMConfigEncodeIsDeterministic(t *testing.T) {
	// The encoded blob is the equality key for zero-cost matching: two
	// structurally identical configs must encode byte-for-byte equal.
	a := LLMConfig{
		Modeltyp:         "hf",
		Model:            "llama-3",
		UsesChatTemplate: true,
		Args: Args{
			Prompting:  map[string]any{"temperature": 0.2, "max_tokens": 128},
			Deployment: map[string]any{"gpu": true},
		},
	}
	b := LLMConfig{
		Modeltyp:         "hf",
		Model:            "llama-3",
		UsesChatTemplate: true,
		Args: Args{
			Prompting:  map[string]any{"max_tokens": 128, "temperature": 0.2},
			Deployment: map[string]any{"gpu": true},
		},
	}

	blobA, err := a.Encode()
	require.NoError(t, err)
	blobB, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, blobA, blobB)

	c := a
	c.Model = "llama-2"
	blobC, err := c.Encode()
	require.NoError(t, err)
	assert.NotEqual(t, blobA, blobC)
}

func TestLLMConfigRoundTrip(t *testing.T) {
	original := LLMConfig{
		Modeltyp:         "hf",
		Model:            "mistral",
		UsesChatTemplate: false,
		Args: Args{
			Prompting:  map[string]any{"top_p": 0.9},
			Deployment: map[string]any{},
		},
	}

	blob, err := original.Encode()
	require.NoError(t, err)

	decoded, err := DecodeLLMConfig(blob)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestLLMConfigValidate(t *testing.T) {
	assert.NoError(t, LLMConfig{Modeltyp: "hf", Model: "m"}.Validate())
	assert.Error(t, LLMConfig{Modeltyp: "hf"}.Validate())
	assert.Error(t, LLMConfig{Model: "m"}.Validate())
}

func TestWrapperStatusPollable(t *testing.T) {
	nonPollable := []WrapperStatus{
		WrapperStatusPrompting,
		WrapperStatusStopping,
		WrapperStatusRestarting,
		WrapperStatusDeploying,
		WrapperStatusInstalling,
		WrapperStatusUnresponsive,
	}
	for _, status := range nonPollable {
		assert.False(t, status.Pollable(), string(status))
	}

	pollable := []WrapperStatus{
		WrapperStatusNotInstalled,
		WrapperStatusIdle,
		WrapperStatusReady,
		WrapperStatusNotReady,
		WrapperStatusFailure,
	}
	for _, status := range pollable {
		assert.True(t, status.Pollable(), string(status))
	}
}

func TestWrapperStatusValid(t *testing.T) {
	assert.True(t, WrapperStatusIdle.Valid())
	assert.False(t, WrapperStatus("warming_up").Valid())
}
