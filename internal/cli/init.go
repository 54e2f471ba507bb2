package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/rx/internal/config"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/rileyhilliard/rx/internal/wrapper"
	"github.com/rileyhilliard/rx/pkg/sshutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	initForce          bool
	initNonInteractive bool
)

// initCmd creates a new .rx.yaml configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .rx.yaml configuration",
	Long: `Create a .rx.yaml file in the current directory.

On a terminal, rx offers the hosts from ~/.ssh/config, asks for the rest,
and tests the connection before saving. Otherwise the values come from
--host, --user, --port, --key, and --wrapper.

Examples:
  rx init
  rx init --host build-box --user deploy --wrapper srt
  rx init --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, host := splitUserHost(targetFlags.Host)
		if targetFlags.User != "" {
			user = targetFlags.User
		}
		return Init(cmd.Context(), InitOptions{
			Host:           host,
			Port:           targetFlags.Port,
			User:           user,
			KeyPath:        targetFlags.Key,
			Wrapper:        targetFlags.Wrapper,
			Overwrite:      initForce,
			NonInteractive: initNonInteractive || !term.IsTerminal(int(os.Stdin.Fd())),
		}, cmd.OutOrStdout())
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing config")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "skip prompts and the connection test")
	rootCmd.AddCommand(initCmd)
}

// InitOptions holds options for the init command.
type InitOptions struct {
	Path           string // Where to write (default ./.rx.yaml)
	Host           string // Pre-specified host or alias
	Port           int
	User           string
	KeyPath        string
	Wrapper        string
	Overwrite      bool // Overwrite existing config without asking
	NonInteractive bool // Skip prompts, use flags and defaults

	dialer sshutil.Dialer
}

// Init creates a new .rx.yaml configuration file.
func Init(ctx context.Context, opts InitOptions, w io.Writer) error {
	configPath := opts.Path
	if configPath == "" {
		configPath = filepath.Join(".", config.ConfigFileName)
	}

	if _, err := os.Stat(configPath); err == nil && !opts.Overwrite {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", configPath),
				"Use --force to overwrite")
		}

		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Config file '%s' already exists. Overwrite?", config.ConfigFileName)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get user input",
				"Try running with --force to overwrite")
		}
		if !overwrite {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	applyInitOptions(cfg, opts)

	if !opts.NonInteractive {
		cancelled, err := promptConfig(cfg)
		if err != nil {
			return err
		}
		if cancelled {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	if cfg.Host == "" {
		return errors.New(errors.ErrConfig,
			"SSH host is required in non-interactive mode",
			"Provide --host or run rx init in a terminal")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if !opts.NonInteractive {
		save, err := probeBeforeSave(ctx, cfg, opts.dialer, w)
		if err != nil {
			return err
		}
		if !save {
			fmt.Fprintln(w, "Cancelled.")
			return nil
		}
	}

	if err := config.Write(configPath, cfg, true); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Created %s\n\n", ui.SymbolSuccess, configPath)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  rx check          - Test the connection")
	fmt.Fprintln(w, "  rx exec <cmd>     - Run a command")
	fmt.Fprintln(w, "  rx batch <file>   - Run a list of commands")

	return nil
}

// applyInitOptions copies the non-empty options onto cfg.
func applyInitOptions(cfg *config.Config, opts InitOptions) {
	cfg.Host = strings.TrimSpace(opts.Host)
	cfg.User = strings.TrimSpace(opts.User)
	cfg.KeyPath = strings.TrimSpace(opts.KeyPath)
	cfg.Wrapper = strings.TrimSpace(opts.Wrapper)
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
}

// promptConfig fills cfg interactively: a picker over ~/.ssh/config hosts
// when no host was given, then a form for the remaining fields.
func promptConfig(cfg *config.Config) (cancelled bool, err error) {
	if cfg.Host == "" {
		entries, err := sshutil.ParseSSHConfig()
		if err != nil {
			cliLogger().Debug("Couldn't read ~/.ssh/config: %v", err)
		}
		picked, quit, err := ui.PickSSHHost(entries, os.Stdin, os.Stderr)
		if err != nil {
			return false, errors.WrapWithCode(err, errors.ErrConfig,
				"Host picker failed",
				"Pass --host instead")
		}
		if quit {
			return true, nil
		}
		if picked != nil {
			cfg.Host = picked.Alias
		}
	}

	port := strconv.Itoa(cfg.Port)
	timeout := cfg.Timeout.String()
	policy := cfg.TimeoutPolicy

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("SSH host or alias").
				Description("Hostname, IP, or a Host from ~/.ssh/config").
				Placeholder("build-box or 192.168.1.100").
				Value(&cfg.Host).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("SSH host is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("User").
				Description("Leave empty to use the User from ~/.ssh/config").
				Value(&cfg.User),
			huh.NewInput().
				Title("Port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Private key (optional)").
				Description("Leave empty to use ~/.ssh/config or your SSH agent").
				Placeholder("~/.ssh/id_ed25519").
				Value(&cfg.KeyPath),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Sandbox wrapper (optional)").
				Description("Prefixed to every command, e.g. srt or firejail --quiet").
				Value(&cfg.Wrapper).
				Validate(wrapper.Validate),
			huh.NewInput().
				Title("Command timeout").
				Value(&timeout).
				Validate(func(s string) error {
					_, err := parseTimeout(strings.TrimSpace(s))
					return err
				}),
			huh.NewSelect[string]().
				Title("On timeout, close").
				Options(
					huh.NewOption("the whole connection", "connection"),
					huh.NewOption("only the timed-out command", "channel"),
				).
				Value(&policy),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Check terminal compatibility or use --non-interactive")
	}

	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.User = strings.TrimSpace(cfg.User)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.Wrapper = strings.TrimSpace(cfg.Wrapper)
	cfg.Port, _ = strconv.Atoi(strings.TrimSpace(port))
	if d, err := time.ParseDuration(strings.TrimSpace(timeout)); err == nil {
		cfg.Timeout = d
	}
	cfg.TimeoutPolicy = policy
	return false, nil
}

// probeBeforeSave tests the connection. On failure it asks whether to save
// anyway.
func probeBeforeSave(ctx context.Context, cfg *config.Config, dialer sshutil.Dialer, w io.Writer) (bool, error) {
	err := probe(ctx, cfg, dialer, os.Stderr)
	if err == nil {
		return true, nil
	}

	fmt.Fprintf(w, "\n%s", ui.Failure(err))

	var saveAnyway bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save config anyway? (You can fix the connection later)").
				Value(&saveAnyway),
		),
	)
	if formErr := form.Run(); formErr != nil {
		return false, err
	}
	return saveAnyway, nil
}

// probe opens and closes one session for cfg, showing a spinner on progress.
func probe(ctx context.Context, cfg *config.Config, dialer sshutil.Dialer, progress io.Writer) error {
	s, err := openSession(cfg, sessionOptions{dialer: dialer, progress: progress})
	if err != nil {
		return err
	}
	defer s.Close()

	_, err = s.manager.Acquire(ctx)
	return err
}
