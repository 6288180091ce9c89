package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/yuya-takeyama/manifest-sync/internal/config"
	"github.com/yuya-takeyama/manifest-sync/internal/logging"
	"github.com/yuya-takeyama/manifest-sync/pkg/controller"
	"github.com/yuya-takeyama/manifest-sync/pkg/logger"
	"github.com/yuya-takeyama/manifest-sync/pkg/manifest"
	"github.com/yuya-takeyama/manifest-sync/pkg/origin"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	cfgFile      string
	quiet        bool
	assumeYes    bool
	planJSONFile string
	planYAMLFile string
)

func main() {
	rootCmd := newRootCmd()
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "manifest-sync",
		Short: "Keep an installation in sync with a remote file manifest",
		Long: `manifest-sync fetches a manifest of files with their sizes and SHA-1
hashes, downloads only what differs from the local installation, and
restarts itself through a relaunch script when its own files change.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/manifest-sync/config.yaml)")
	flags.String("origin", "", "Origin URL or S3 URI (https://host/path/ or s3://bucket/prefix)")
	flags.String("manifest", "", "Manifest base name; the OS suffix is appended")
	flags.String("install-dir", "", "Installation directory (default is the executable's directory)")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.StringSlice("protect", nil, "Patterns of files that are never re-downloaded once present")
	flags.Duration("idle-timeout", 0, "Abort a download after this long without data")
	flags.Duration("fetch-timeout", 0, "Timeout for fetching the manifest")
	flags.Int("retries", config.DefaultMaxRetries, "Retries for transient S3 errors")
	flags.String("profile", "", "AWS profile to use")
	flags.String("region", "", "AWS region (uses default if not specified)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.BoolVar(&quiet, "quiet", false, "Suppress non-error output")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Show what an update would download",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	checkCmd.Flags().StringVar(&planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	checkCmd.Flags().StringVar(&planYAMLFile, "plan-yaml-file", "", "Path to output plan as YAML file")

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Download pending changes",
		Args:  cobra.NoArgs,
		RunE:  runUpdate,
	}
	updateCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}

	rootCmd.AddCommand(checkCmd, updateCmd, versionCmd)
	return rootCmd
}

// session is what both subcommands build from the configuration.
type session struct {
	ctrl *controller.Controller
	slog *slog.Logger
}

func newSession(cmd *cobra.Command, dryRun bool, obs controller.Observer) (*session, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFilePath: cfgFile,
		Flags:          cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}

	slogger := logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Prefix: config.AppName,
	})
	syncLogger := &logger.SyncLogger{
		Logger:   slogger,
		IsDryRun: dryRun,
		IsQuiet:  quiet,
	}

	o, err := origin.New(cmd.Context(), cfg.Origin, origin.Options{
		AWSProfile: cfg.AWS.Profile,
		AWSRegion:  cfg.AWS.Region,
		MaxRetries: cfg.Sync.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create origin: %w", err)
	}

	ctrl := controller.New(controller.Config{
		Origin:       o,
		ManifestName: manifest.ResourceName(cfg.ManifestName, runtime.GOOS),
		InstallDir:   cfg.Paths.InstallDir,
		StagingDir:   cfg.Paths.StagingDir,
		ContentDir:   cfg.Paths.ContentDir,
		Excludes:     cfg.Sync.Excludes,
		Protect:      cfg.Sync.Protect,
		FetchTimeout: cfg.Sync.FetchTimeout,
		IdleTimeout:  cfg.Sync.IdleTimeout,
		Executable:   cfg.Launch.Executable,
		Args:         cfg.Launch.Args,
	},
		controller.WithLogger(syncLogger),
		controller.WithObserver(obs),
	)

	fields := []any{
		"origin", o.String(),
		"install_dir", cfg.Paths.InstallDir,
		"content_dir", cfg.Paths.ContentDir,
	}
	if cfg.IsS3() {
		fields = append(fields, "aws_profile", cfg.AWS.Profile, "aws_region", cfg.AWS.Region)
	}
	slogger.Debug("configuration loaded", fields...)

	return &session{ctrl: ctrl, slog: slogger}, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, true, controller.NopObserver{})
	if err != nil {
		return err
	}

	if err := s.ctrl.Start(cmd.Context()); err != nil {
		return err
	}

	result := buildPlanResult(s.ctrl.Kind(), s.ctrl.Plan())
	if planJSONFile != "" {
		if err := writePlanFile(planJSONFile, result, formatJSON); err != nil {
			return err
		}
	}
	if planYAMLFile != "" {
		if err := writePlanFile(planYAMLFile, result, formatYAML); err != nil {
			return err
		}
	}

	if !quiet {
		printPlan(cmd.OutOrStdout(), result)
		fmt.Fprintln(cmd.OutOrStdout(), s.ctrl.Status())
	}
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	obs := newCLIObserver(cmd.ErrOrStderr(), quiet)
	s, err := newSession(cmd, false, obs)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	in := bufio.NewReader(cmd.InOrStdin())

	err = s.ctrl.Start(ctx)
	for {
		if err == nil {
			err = s.update(cmd, in, obs)
		}
		if err == nil || !s.offerRetry(cmd, in, err) {
			return err
		}
		err = s.ctrl.Retry(ctx)
	}
}

func (s *session) update(cmd *cobra.Command, in *bufio.Reader, obs *cliObserver) error {
	out := cmd.OutOrStdout()
	if s.ctrl.State() == controller.Ready {
		if !quiet {
			fmt.Fprintln(out, s.ctrl.Status())
		}
		return nil
	}

	if !quiet {
		printPlan(out, buildPlanResult(s.ctrl.Kind(), s.ctrl.Plan()))
	}
	if !assumeYes {
		ok, err := confirm(in, out, s.ctrl.Status()+". Proceed?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	started := time.Now()
	err := s.ctrl.Confirm(cmd.Context())

	summary := logging.Summary{
		Group:    s.ctrl.Plan().Group,
		Duration: time.Since(started),
	}
	if r := obs.result; r != nil {
		summary.Downloaded = len(r.Completed)
		summary.Bytes = r.BytesTransferred
		if r.Failed != nil {
			summary.Failed = 1
		}
	}
	logging.PrintSummary(out, summary, quiet)
	return err
}

// offerRetry asks whether to run the cycle again after err. Non-interactive
// runs and interrupted runs never retry.
func (s *session) offerRetry(cmd *cobra.Command, in *bufio.Reader, err error) bool {
	if assumeYes || quiet || s.ctrl.State() != controller.Error {
		return false
	}
	if errors.Is(err, context.Canceled) || cmd.Context().Err() != nil {
		return false
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, s.ctrl.Status())
	ok, cerr := confirm(in, out, "Retry?")
	if cerr != nil {
		s.slog.Debug("no answer to retry prompt", "error", cerr)
		return false
	}
	return ok
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in *bufio.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
