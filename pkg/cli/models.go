package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memoflow/distill/pkg/catalog"
	"github.com/memoflow/distill/pkg/download"
)

func NewModelsCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Local model management commands",
		Long: `Manage the on-device model catalog.

Models are downloaded from the configured hub into the model storage
directory and selected at analysis time by device fit and fallback rank.`,
	}

	cmd.AddCommand(NewModelsListCommand(root))
	cmd.AddCommand(NewModelsPullCommand(root))
	cmd.AddCommand(NewModelsDeleteCommand(root))
	cmd.AddCommand(NewModelsStatusCommand(root))

	return cmd
}

type modelRow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quant      string `json:"quant"`
	SizeMB     int64  `json:"size_mb"`
	Rank       int    `json:"rank"`
	Downloaded bool   `json:"downloaded"`
	Viable     bool   `json:"viable"`
}

func NewModelsListCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List catalog models",
		Long:    `List the model catalog with download state and device fit.`,
		Example: `  # List all models
  distill models list

  # List with JSON output
  distill models list --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsList(root)
		},
	}

	return cmd
}

func runModelsList(root *RootCommand) error {
	storageDir := root.Config().Model.StorageDir
	selector := root.Selector()

	var rows []modelRow
	for _, m := range catalog.All() {
		rows = append(rows, modelRow{
			ID:         m.ID,
			Name:       m.Name,
			Quant:      m.Quant,
			SizeMB:     m.ApproxSizeMB,
			Rank:       m.FallbackRank,
			Downloaded: m.Downloaded(storageDir),
			Viable:     selector.Viable(m),
		})
	}

	return PrintOutput(rows, root.OutputOptions())
}

func NewModelsPullCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <model_id>",
		Short: "Download a model's weights",
		Long: `Download a catalog model from the hub.

Sharded weights are fetched shard by shard into the model directory.
A partial download left by a cancelled or failed pull is cleaned up.`,
		Args: cobra.ExactArgs(1),
		Example: `  # Pull the default model
  distill models pull qwen2.5-1.5b-instruct-q4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsPull(cmd.Context(), root, args[0])
		},
	}

	return cmd
}

func runModelsPull(ctx context.Context, root *RootCommand, modelID string) error {
	opts := root.OutputOptions()

	m, ok := catalog.FromID(modelID)
	if !ok {
		return fmt.Errorf("model %q is not in the catalog", modelID)
	}

	coord := root.Coordinator()

	var onProgress func(download.Progress)
	if !opts.Quiet {
		onProgress = func(p download.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %5.1f%% (%s)", p.ModelID, p.Fraction*100, p.File)
		}
	}

	if err := coord.Download(ctx, m, onProgress); err != nil {
		if !opts.Quiet {
			fmt.Fprintln(os.Stderr)
		}
		PrintError(err, opts)
		return err
	}
	if !opts.Quiet {
		fmt.Fprintln(os.Stderr)
	}

	PrintSuccess(fmt.Sprintf("Model %s downloaded", modelID), opts)
	return nil
}

func NewModelsDeleteCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <model_id>",
		Aliases: []string{"rm"},
		Short:   "Delete a model's weights",
		Long:    `Remove a downloaded model from local storage.`,
		Args:    cobra.ExactArgs(1),
		Example: `  # Delete a model
  distill models delete smollm2-360m-instruct-q8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsDelete(root, args[0])
		},
	}

	return cmd
}

func runModelsDelete(root *RootCommand, modelID string) error {
	opts := root.OutputOptions()

	m, ok := catalog.FromID(modelID)
	if !ok {
		return fmt.Errorf("model %q is not in the catalog", modelID)
	}

	if err := root.Coordinator().Delete(m); err != nil {
		PrintError(err, opts)
		return err
	}

	PrintSuccess(fmt.Sprintf("Model %s deleted", modelID), opts)
	return nil
}

func NewModelsStatusCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <model_id>",
		Short: "Show a model's download state",
		Long:  `Show download state, progress and on-disk weight for a model.`,
		Args:  cobra.ExactArgs(1),
		Example: `  # Inspect a model
  distill models status qwen2.5-1.5b-instruct-q4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsStatus(root, args[0])
		},
	}

	return cmd
}

func runModelsStatus(root *RootCommand, modelID string) error {
	m, ok := catalog.FromID(modelID)
	if !ok {
		return fmt.Errorf("model %q is not in the catalog", modelID)
	}

	coord := root.Coordinator()
	storageDir := root.Config().Model.StorageDir
	weight, _ := m.DiskWeight(storageDir)

	out := struct {
		ID       string  `json:"id"`
		State    string  `json:"state"`
		Fraction float64 `json:"fraction"`
		DiskMB   int64   `json:"disk_mb"`
		Viable   bool    `json:"viable"`
	}{
		ID:       m.ID,
		State:    coord.State(m).String(),
		Fraction: coord.Fraction(m.ID),
		DiskMB:   weight / (1024 * 1024),
		Viable:   root.Selector().Viable(m),
	}

	return PrintOutput(out, root.OutputOptions())
}
