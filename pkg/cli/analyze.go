package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memoflow/distill/pkg/analysis"
	"github.com/memoflow/distill/pkg/infra/cache"
	"github.com/memoflow/distill/pkg/infra/logger"
	"github.com/memoflow/distill/pkg/infra/store"
	"github.com/memoflow/distill/pkg/localinfer"
	"github.com/memoflow/distill/pkg/orchestrator"
	"github.com/memoflow/distill/pkg/remote"
)

// staticEntitlements answers the entitlement question from a CLI flag.
// The app proper wires a live subscription check here.
type staticEntitlements struct {
	pro bool
}

func (s staticEntitlements) IsPro(context.Context) bool { return s.pro }

func NewAnalyzeCommand(root *RootCommand) *cobra.Command {
	var (
		memoID string
		mode   string
		pro    bool
		local  bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [transcript-file]",
		Short: "Analyze a memo transcript",
		Long: `Run one analysis mode over a transcript read from a file or stdin.

Results are cached per memo and mode; repeating a command serves the
stored result without re-running inference.`,
		Example: `  # Distill a transcript (lite tier without --pro)
  distill analyze memo.txt --memo-id memo-42

  # Full distill as a Pro subscriber
  distill analyze memo.txt --memo-id memo-42 --pro

  # Single summary from stdin, forced on-device
  cat memo.txt | distill analyze - --mode summary --local`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) > 0 {
				path = args[0]
			}
			return runAnalyze(cmd.Context(), root, path, memoID, analysis.Mode(mode), pro, local)
		},
	}

	cmd.Flags().StringVar(&memoID, "memo-id", "", "Memo identifier for caching (required)")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(analysis.ModeDistill), "Analysis mode")
	cmd.Flags().BoolVar(&pro, "pro", false, "Request the Pro analysis tier")
	cmd.Flags().BoolVar(&local, "local", false, "Force on-device inference (implies no cloud fallback)")
	cmd.MarkFlagRequired("memo-id")

	return cmd
}

func runAnalyze(ctx context.Context, root *RootCommand, path, memoID string, mode analysis.Mode, pro, local bool) error {
	opts := root.OutputOptions()
	cfg := root.Config()

	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}

	transcript, err := readTranscript(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(transcript) == "" {
		return fmt.Errorf("transcript is empty")
	}

	strictLocal := local || cfg.Analysis.StrictLocal

	envCache := cache.New(
		cache.WithTTL(cfg.Analysis.CacheTTLD),
		cache.WithMaxSize(cfg.Analysis.CacheMaxItems),
	)

	var envStore store.EnvelopeStore
	if s, err := store.NewSQLiteStore(cfg.Storage.DBPath); err != nil {
		logger.Default().Warn("envelope store unavailable, running without persistence", "error", err)
	} else {
		envStore = s
		defer s.Close()
	}

	var localBackend orchestrator.LocalBackend
	if strictLocal {
		runtime, err := localinfer.NewContainerRuntime()
		if err != nil {
			return fmt.Errorf("local runtime unavailable: %w", err)
		}
		backend := localinfer.NewBackend(runtime, root.Monitor(), root.Selector(), cfg.Model.StorageDir, nil)
		defer backend.Close(context.Background())
		localBackend = backend
	}

	orch := orchestrator.New(
		orchestrator.Config{
			StrictLocal:      strictLocal,
			PreferredModelID: cfg.Analysis.PreferredModel,
			CacheTTL:         cfg.Analysis.CacheTTLD,
		},
		envCache, envStore, localBackend,
		remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey),
		staticEntitlements{pro: pro},
		nil,
	)

	var onProgress analysis.ProgressFunc
	if !opts.Quiet {
		onProgress = func(p analysis.Progress, _ analysis.PartialSnapshot) {
			fmt.Fprintf(os.Stderr, "  [%d/%d] %s\n", p.Completed, p.Total, p.Component)
		}
	}

	env, err := orch.Analyze(ctx, orchestrator.Request{
		MemoID:     memoID,
		Transcript: transcript,
		Mode:       mode,
		OnProgress: onProgress,
	})
	if err != nil {
		PrintError(err, opts)
		return err
	}

	out := struct {
		Mode      string `json:"mode"`
		Model     string `json:"model"`
		LatencyMS int64  `json:"latency_ms"`
		Tokens    int    `json:"tokens"`
		Data      any    `json:"data"`
	}{
		Mode:      string(env.Mode),
		Model:     env.Model,
		LatencyMS: env.LatencyMS,
		Tokens:    env.Tokens.Input + env.Tokens.Output,
		Data:      env.Result.Payload(),
	}
	return PrintOutput(out, opts)
}

func readTranscript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}
