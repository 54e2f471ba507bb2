package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rileyhilliard/rx/internal/batch"
	"github.com/rileyhilliard/rx/internal/config"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/metrics"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/spf13/cobra"
)

var (
	batchParallel    int
	batchFailFast    bool
	batchTimeoutFlag string
	batchMetricsAddr string
)

// batchCmd runs a list of commands over one session
var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Run a list of commands over one SSH session",
	Long: `Run newline-separated commands from a file, or stdin when no file is
given. Blank lines and lines starting with # are skipped.

Every command reuses the same SSH connection. Reports print in input order,
each under a "$ command" header, followed by a summary.

Examples:
  rx batch checks.txt
  rx batch --parallel 4 checks.txt
  printf 'uptime\ndf -h\n' | rx batch
  rx batch --metrics-addr 127.0.0.1:9464 long-jobs.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := parseTimeout(batchTimeoutFlag)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.WrapWithCode(err, errors.ErrConfig,
					fmt.Sprintf("Couldn't open %s", args[0]),
					"Check the path, or pipe commands on stdin.")
			}
			defer f.Close()
			in = f
		}
		commands, err := batch.ParseCommands(in)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return batchCommand(cmd.Context(), cfg, commands, batchOptions{
			Parallel:    batchParallel,
			FailFast:    batchFailFast,
			Timeout:     timeout,
			MetricsAddr: batchMetricsAddr,
			Quiet:       Quiet(),
		}, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "p", 1, "commands to run at once on the shared session")
	batchCmd.Flags().BoolVar(&batchFailFast, "fail-fast", false, "stop starting commands after the first failure")
	batchCmd.Flags().StringVar(&batchTimeoutFlag, "timeout", "", "deadline for each command (default from config)")
	batchCmd.Flags().StringVar(&batchMetricsAddr, "metrics-addr", "", "serve Prometheus /metrics and /healthz on this address while running")
	rootCmd.AddCommand(batchCmd)
}

// batchOptions holds options for batchCommand.
type batchOptions struct {
	Parallel    int
	FailFast    bool
	Timeout     time.Duration
	MetricsAddr string
	Quiet       bool

	dialer sshutil.Dialer
	// onMetrics is called with the metrics address once it is listening.
	onMetrics func(addr string)
}

// batchCommand runs commands through one session, printing each report as it
// becomes available in input order. Any failed command makes rx exit 1.
func batchCommand(ctx context.Context, cfg *config.Config, commands []string, opts batchOptions, stdout, stderr io.Writer) error {
	if len(commands) == 0 {
		return errors.New(errors.ErrConfig,
			"No commands to run",
			"Put one command per line; blank lines and # comments are skipped.")
	}

	var recorder metrics.Recorder
	var prom *metrics.Prometheus
	if opts.MetricsAddr != "" {
		prom = metrics.NewPrometheus()
		recorder = prom
	}

	s, err := openSession(cfg, sessionOptions{
		dialer:   opts.dialer,
		recorder: recorder,
		progress: progressWriter(opts.Quiet, stderr),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if prom != nil {
		srv, err := metrics.Serve(opts.MetricsAddr, prom, func() map[string]string {
			return map[string]string{
				"state":  s.manager.State().String(),
				"target": s.target.String(),
			}
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if !opts.Quiet {
			fmt.Fprintf(stderr, "Metrics on http://%s/metrics\n", srv.Addr())
		}
		if opts.onMetrics != nil {
			opts.onMetrics(srv.Addr())
		}
	}

	orch := batch.NewOrchestrator(commands, s.engine, batch.Config{
		MaxParallel: opts.Parallel,
		FailFast:    opts.FailFast,
		Timeout:     opts.Timeout,
	})
	orch.OnResult(func(r batch.ItemResult) {
		batch.RenderItem(stdout, r)
	})

	result := orch.Run(ctx)
	if !opts.Quiet || !result.Success() {
		batch.RenderSummaryTo(stdout, result)
	}

	if !result.Success() {
		return errors.NewExitError(1)
	}
	return nil
}
