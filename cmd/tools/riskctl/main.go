// cmd/tools/riskctl/main.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"heart-risk-predictor/internal/common/config"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
	"heart-risk-predictor/internal/inference"
	"heart-risk-predictor/internal/predictor"
	"heart-risk-predictor/pkg/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	registryPath string
	inputPath    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "riskctl",
		Short:        "Inspect and exercise the heart attack risk model offline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: configs/config.yaml lookup)")
	root.PersistentFlags().StringVar(&opts.registryPath, "registry", "", "artifact registry manifest, overrides model.registry_path")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the model artifacts and cross-check them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bundle, err := loadBundle(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model version: %s\n", bundle.Version)
			fmt.Fprintf(out, "objective:     %s\n", bundle.Model.Objective)
			fmt.Fprintf(out, "trees:         %d\n", len(bundle.Model.Trees))
			fmt.Fprintf(out, "features:      %d\n", bundle.Schema.Len())
			fmt.Fprintf(out, "scaler:        %t\n", bundle.Scaler != nil)
			fmt.Fprintf(out, "fingerprint:   %s\n", bundle.Fingerprint)
			fmt.Fprintln(out, "OK")
			return nil
		},
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the expected feature schema as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), svc.Schema())
		},
	}

	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one JSON feature record",
		Long: `Reads a JSON object of field name to value and prints the prediction.

Example:
  riskctl predict --input patient.json
  cat patient.json | riskctl predict --input -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			values, err := readInput(cmd.InOrStdin(), opts.inputPath)
			if err != nil {
				return err
			}
			svc, err := newService(opts)
			if err != nil {
				return err
			}
			result, err := svc.PredictValues(cmd.Context(), metrics.SourceCLI, values)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	predictCmd.Flags().StringVarP(&opts.inputPath, "input", "i", "", "JSON file with the feature record, - for stdin")
	_ = predictCmd.MarkFlagRequired("input")

	root.AddCommand(validateCmd, schemaCmd, predictCmd, newRegistryCmd())
	return root
}

func newRegistryCmd() *cobra.Command {
	var version string

	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the artifact registry manifest",
	}

	stampCmd := &cobra.Command{
		Use:   "stamp <registry.json>",
		Short: "Recompute artifact checksums and bump the manifest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Stamp(args[0], version, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Updated %s\n", args[0])
			fmt.Fprintf(out, "  version:     %s\n", reg.Version)
			fmt.Fprintf(out, "  lastUpdated: %s\n", reg.LastUpdated)
			fmt.Fprintf(out, "  checksums:   %d\n", len(reg.Checksums))
			return nil
		},
	}
	stampCmd.Flags().StringVar(&version, "version", "", "new model version (default: keep current)")

	registryCmd.AddCommand(stampCmd)
	return registryCmd
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.registryPath != "" {
		cfg.Model.RegistryPath = opts.registryPath
	}
	return cfg, nil
}

func loadBundle(opts *options) (*inference.Bundle, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return inference.LoadFromConfig(cfg.Model)
}

func newService(opts *options) (*predictor.Service, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	bundle, err := inference.LoadFromConfig(cfg.Model)
	if err != nil {
		return nil, err
	}
	// Logs go to stderr so stdout stays machine-readable.
	log := logger.NewStructured(cfg.Logging.Level, "console", "stderr")
	return predictor.NewService(predictor.Config{TopFeatures: cfg.Model.TopFeatures}, bundle, log)
}

func readInput(stdin io.Reader, path string) (map[string]interface{}, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var values map[string]interface{}
	if err := json.NewDecoder(r).Decode(&values); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if values == nil {
		return nil, fmt.Errorf("decode input: expected a JSON object")
	}
	return values, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
