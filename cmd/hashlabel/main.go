// Command hashlabel computes the hash-id label of a bundle and can patch
// it onto a workflow that was submitted without one.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"lira/internal/config"
	"lira/internal/inputhash"
	"lira/internal/logging"
	"lira/internal/services"
)

type options struct {
	configPath    string
	workflowName  string
	bundleUUID    string
	bundleVersion string
	workflowID    string
}

type labelComputer interface {
	Compute(ctx context.Context, workflowName, bundleUUID, bundleVersion string) (map[string]string, error)
}

type labelPatcher interface {
	UpdateLabels(ctx context.Context, workflowID string, labels map[string]string) error
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "hashlabel",
		Short:        "Compute the hash-id label of a bundle",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to config file (defaults to $"+config.EnvConfigPath+")")
	cmd.Flags().StringVar(&opts.workflowName, "workflow", "", "adapter workflow name")
	cmd.Flags().StringVar(&opts.bundleUUID, "bundle-uuid", "", "bundle uuid")
	cmd.Flags().StringVar(&opts.bundleVersion, "bundle-version", "", "bundle version")
	cmd.Flags().StringVar(&opts.workflowID, "workflow-id", "", "Cromwell workflow to patch with the label")
	for _, name := range []string{"workflow", "bundle-uuid", "bundle-version"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel)

	fetcher := services.NewObjectFetcher(
		services.WithHTTPClient(&http.Client{Timeout: cfg.Timeouts.Metadata}),
		services.WithRetries(cfg.FetchRetries),
		services.WithFetchLogger(logger),
	)
	hasher := inputhash.NewHasher(services.NewDSSClient(cfg.DSSURL, fetcher))

	var patcher labelPatcher
	if opts.workflowID != "" {
		if patcher, err = services.NewCromwellClient(ctx, cfg); err != nil {
			return err
		}
	}
	return computeLabel(ctx, hasher, patcher, opts, out)
}

// computeLabel prints the label and, when a patcher is given, applies it
// to opts.workflowID.
func computeLabel(ctx context.Context, hasher labelComputer, patcher labelPatcher, opts *options, out io.Writer) error {
	label, err := hasher.Compute(ctx, opts.workflowName, opts.bundleUUID, opts.bundleVersion)
	if err != nil {
		return fmt.Errorf("compute hash label: %w", err)
	}
	if label == nil {
		return errors.New("no hash label is defined for workflow " + opts.workflowName)
	}

	if patcher != nil {
		if err := patcher.UpdateLabels(ctx, opts.workflowID, label); err != nil {
			return fmt.Errorf("update labels of %s: %w", opts.workflowID, err)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(label)
}
