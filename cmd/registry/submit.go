package main

import (
	"fmt"
	"os"

	"github.com/greenprompt/registry/pkg/client"
	"github.com/greenprompt/registry/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Measurement manifest applied with `registry submit -f`.
type measurementManifest struct {
	MeasurementID int64             `yaml:"measurementId"`
	LLMs          []types.LLMConfig `yaml:"llms"`
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a measurement from a YAML manifest",
	Long: `Submit a measurement to a running registry.

Examples:
  # Queue the configurations listed in measurement.yaml
  registry submit -f measurement.yaml

  # Against a non-default registry
  registry submit -f measurement.yaml --registry 10.1.0.5:8080`,
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show the status of a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registryAddr, _ := cmd.Flags().GetString("registry")

		c := client.NewClient(registryAddr)
		status, err := c.GetRequest(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Request:     %s\n", status.RequestID)
		fmt.Printf("Model:       %s (%s)\n", status.LLMConfig.Model, status.LLMConfig.Modeltyp)
		fmt.Printf("Status:      %s\n", status.Status)
		fmt.Printf("Measurement: %d\n", status.MeasurementID)
		if status.Address != "" {
			fmt.Printf("Wrapper:     %s\n", status.Address)
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <request-id>",
	Short: "Release the wrapper bound to a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registryAddr, _ := cmd.Flags().GetString("registry")

		c := client.NewClient(registryAddr)
		if err := c.Release(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Request released: %s\n", args[0])
		return nil
	},
}

func init() {
	submitCmd.Flags().StringP("file", "f", "", "YAML manifest to submit (required)")
	submitCmd.Flags().String("registry", "localhost:8080", "Registry address")
	_ = submitCmd.MarkFlagRequired("file")

	statusCmd.Flags().String("registry", "localhost:8080", "Registry address")
	releaseCmd.Flags().String("registry", "localhost:8080", "Registry address")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	registryAddr, _ := cmd.Flags().GetString("registry")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var manifest measurementManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	c := client.NewClient(registryAddr)
	response, err := c.Submit(manifest.MeasurementID, manifest.LLMs)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Measurement %d submitted (%d requests)\n", manifest.MeasurementID, len(response.Requests))
	for _, request := range response.Requests {
		fmt.Printf("  %s  %s\n", request.RequestID, request.LLMConfig.Model)
	}
	return nil
}
