package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/memoflow/distill/pkg/catalog"
	"github.com/memoflow/distill/pkg/config"
	"github.com/memoflow/distill/pkg/download"
	"github.com/memoflow/distill/pkg/guardrail"
	"github.com/memoflow/distill/pkg/infra/logger"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	opts      *OutputOptions
	formatStr string
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts: NewOutputOptions(),
	}

	cmd := &cobra.Command{
		Use:   "distill",
		Short: "Distill - voice memo analysis",
		Long: `Distill turns voice memo transcripts into structured analyses:
summaries, action items, themes and reflection questions.

Analyses run on a local model when the device can carry the work, and
fall back to the cloud backend otherwise.`,
		PersistentPreRunE: root.persistentPreRunE,
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (default: ~/.distill/config.toml)")

	viper.BindPFlag("output", pflags.Lookup("output"))
	viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	viper.BindPFlag("config", pflags.Lookup("config"))

	root.cmd = cmd

	root.addSubCommands()

	return root
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	cfgPath := viper.GetString("config")
	var err error
	r.cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
	})

	if err := os.MkdirAll(r.cfg.General.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(r.cfg.Model.StorageDir, 0o755); err != nil {
		return fmt.Errorf("create model storage dir: %w", err)
	}

	logger.Default().Debug("command invoked", "command", cmd.Name(), "flags", setFlags(cmd.Flags()))

	return nil
}

// setFlags collects the flags explicitly set on the command line.
func setFlags(flags *pflag.FlagSet) map[string]string {
	out := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		out[f.Name] = f.Value.String()
	})
	return out
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewAnalyzeCommand(r))
	r.cmd.AddCommand(NewModelsCommand(r))
	r.cmd.AddCommand(NewConfigCommand(r))
}

// Coordinator builds a download coordinator against the configured hub.
func (r *RootCommand) Coordinator() *download.Coordinator {
	registry := download.NewRegistryClient(r.cfg.Model.HubBaseURL, r.cfg.Model.HubToken)
	return download.NewCoordinator(registry, r.cfg.Model.StorageDir, nil)
}

// Monitor builds a guardrail monitor from the configured thresholds and
// the platform probes.
func (r *RootCommand) Monitor() *guardrail.Monitor {
	return guardrail.NewMonitor(guardrail.NewThermalProbe(), guardrail.NewMemoryProbe(), r.cfg.Thresholds())
}

// Selector builds the local model selector for this device.
func (r *RootCommand) Selector() *catalog.Selector {
	return &catalog.Selector{
		Root:     r.cfg.Model.StorageDir,
		Device:   r.cfg.General.DeviceID,
		TotalRAM: guardrail.NewMemoryProbe().TotalRAM,
	}
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

func (r *RootCommand) Config() *config.Config {
	return r.cfg
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w interface{ Write([]byte) (int, error) }) {
	r.opts.Writer = w
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

func Execute() {
	root := NewRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func GetVersion() string {
	return cliVersion
}

func GetBuildDate() string {
	return cliBuildDate
}

func GetGitCommit() string {
	return cliGitCommit
}
