package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jguan/retrainer/pkg/config"
	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/infra/store"
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

	store   *store.SQLiteStore
	logFile *os.File

	// newRuntime builds the cycle machinery; tests replace it with fakes.
	newRuntime func(r *RootCommand) (*Runtime, error)
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts:       NewOutputOptions(),
		newRuntime: buildRuntime,
	}

	cmd := &cobra.Command{
		Use:   "retrainer",
		Short: "retrainer - automated model retraining",
		Long: `retrainer watches a bucket for new training data and runs a
retraining cycle for each batch: validate the data, train a candidate,
compare it with the production model, then deploy it or raise an alert.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  root.persistentPreRunE,
		PersistentPostRunE: root.persistentPostRunE,
	}

	pflags := cmd.PersistentFlags()

	pflags.StringVarP(&root.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&root.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.String("config", "", "Config file path (TOML)")
	pflags.String("env-file", "", "Env file to load before reading the environment (default: ./.env if present)")

	viper.BindPFlag("output", pflags.Lookup("output"))
	viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	viper.BindPFlag("config", pflags.Lookup("config"))
	viper.BindPFlag("env-file", pflags.Lookup("env-file"))

	root.cmd = cmd

	root.addSubCommands()

	return root
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)
	switch r.opts.Format {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q", r.formatStr)
	}

	if err := config.LoadEnvFile(viper.GetString("env-file")); err != nil {
		return err
	}

	var err error
	r.cfg, err = config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	return r.initLogging()
}

func (r *RootCommand) initLogging() error {
	var out io.Writer = os.Stderr
	if path := r.cfg.Logging.File; path != "" {
		f, err := logger.OpenFile(path)
		if err != nil {
			return err
		}
		r.logFile = f
		out = f
	}
	logger.Init(logger.Config{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
		Output: out,
	})
	return nil
}

func (r *RootCommand) persistentPostRunE(cmd *cobra.Command, args []string) error {
	return r.close()
}

func (r *RootCommand) close() error {
	var errs []error
	if r.store != nil {
		errs = append(errs, r.store.Close())
		r.store = nil
	}
	if r.logFile != nil {
		errs = append(errs, r.logFile.Close())
		r.logFile = nil
	}
	return errors.Join(errs...)
}

// Store opens the database on first use.
func (r *RootCommand) Store() (*store.SQLiteStore, error) {
	if r.store != nil {
		return r.store, nil
	}
	s, err := store.NewSQLiteStore(r.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", r.cfg.Database.Path, err)
	}
	r.store = s
	return s, nil
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewRunCommand(r))
	r.cmd.AddCommand(NewWatchCommand(r))
	r.cmd.AddCommand(NewHistoryCommand(r))
	r.cmd.AddCommand(NewEventsCommand(r))
	r.cmd.AddCommand(NewAlertsCommand(r))
	r.cmd.AddCommand(NewProductionCommand(r))
	r.cmd.AddCommand(NewStorageCommand(r))
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

func (r *RootCommand) SetOutputWriter(w io.Writer) {
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

	err := root.ExecuteContext(ctx)
	// PostRun is skipped when RunE fails.
	_ = root.close()
	if err != nil {
		PrintError(err, root.opts)
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
