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
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/al-bashkir/sessiongate/internal/auth"
	"github.com/al-bashkir/sessiongate/internal/bootstrap"
	"github.com/al-bashkir/sessiongate/internal/config"
	"github.com/al-bashkir/sessiongate/internal/daemon"
	"github.com/al-bashkir/sessiongate/internal/ipc"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Startup option handlers bound to flags
var (
	envFile     = bootstrap.NewEnvFile("")
	fixtureFlag = &bootstrap.FixtureFromFlag{}
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

const defaultSocket = "/run/sessiongate/control.sock"

var rootCmd = &cobra.Command{
	Use:   "sessiongate",
	Short: "Session gate for web applications",
	Long: `sessiongate puts a session gate in front of a web application.

Every request is classified before it reaches the application: static
resources and ignored paths pass straight through, the logon page is always
reachable, and everything else runs inside a domain session opened for the
authenticated user. Unauthenticated requests are redirected to the logon page.

Users authenticate with a password, through an OIDC provider, or with a
bearer token issued after logon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sessiongate daemon",
	Long: `Start the daemon that serves the gated web front.

The daemon:
  - Serves the logon pages, the JSON API and static resources over HTTP
  - Opens a domain session around every authenticated request
  - Caches authentication in HTTP sessions (memory, sqlite or redis)
  - Listens on a Unix socket for operator commands

This mode is typically run as a systemd service.`,
	RunE: runServe,
}

// overrideExitCode is set by subcommands (check-config) so main() can
// call os.Exit() after cobra finishes.  This avoids calling os.Exit() inside
// RunE which would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the daemon.

Checks for:
  - Valid YAML or TOML syntax
  - Valid gate paths and lookup strategies
  - Session store and OIDC settings
  - Logical consistency

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Hash a password for the users section",
	Long: `Print the bcrypt hash of a password for use as auth.users[].password_hash.

The password is read from the first line of standard input when it is not
given as an argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashPassword,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and revoke HTTP sessions of a running daemon",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached HTTP sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <session-id>",
	Short: "Revoke an HTTP session and the logon it carries",
	Long: `Revoke an HTTP session by its ID or a unique prefix of at least 8
characters. Bearer tokens issued for the same logon stop working as well.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsRevoke,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/sessiongate/config.yaml",
		"Path to configuration file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")
	bootstrap.AddFlags(rootCmd.PersistentFlags(), envFile)
	bootstrap.AddFlags(serveCmd.Flags(), fixtureFlag)

	// Add subcommands
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsRevokeCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadConfig loads the .env file, then the configuration file.
func loadConfig() (*config.Config, error) {
	if err := bootstrap.Handle([]bootstrap.OptionHandler{envFile}, os.Environ); err != nil {
		return nil, err
	}
	return config.Load(configFile)
}

func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

// runServe starts the daemon
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override log settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	// Initialize structured logging based on config
	config.SetupLogging(&cfg.Log)

	slog.Info("starting sessiongate daemon",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg,
		daemon.WithVersion(version),
		daemon.WithStartupOptions(&bootstrap.FixtureFromEnvironment{}, fixtureFlag),
	)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run(ctx)
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	w := stdout(cmd)
	fmt.Fprintf(w, "sessiongate version %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Build date: %s\n", buildDate)
	fmt.Fprintf(w, "  Go version: %s\n", getGoVersion())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	w := stdout(cmd)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Fprintf(w, "Checking configuration: %s\n\n", configFile)

	cfg, err := loadConfig()
	if err != nil {
		red.Fprintln(os.Stderr, "Configuration validation failed:")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	// Print configuration summary (with secrets redacted)
	green.Fprintln(w, "Configuration is valid")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration summary:")
	fmt.Fprintf(w, "  HTTP Listen:      %s\n", cfg.Listen.HTTP)
	fmt.Fprintf(w, "  Control Socket:   %s\n", cfg.Listen.Socket)
	fmt.Fprintf(w, "  Logon Page:       %s\n", cfg.Gate.LogonPage)
	fmt.Fprintf(w, "  Lookup:           %v\n", cfg.Gate.Lookup)
	fmt.Fprintf(w, "  Ignore Extensions: %v\n", cfg.Gate.IgnoreExtensions)
	fmt.Fprintf(w, "  Session Store:    %s\n", cfg.Session.Store)
	fmt.Fprintf(w, "  Session Timeout:  %d seconds\n", cfg.Auth.SessionTimeout)
	fmt.Fprintf(w, "  Users:            %d\n", len(cfg.Auth.Users))
	fmt.Fprintf(w, "  Fixtures:         %s\n", cfg.Fixtures)
	fmt.Fprintf(w, "  Log Level:        %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "  Log Format:       %s\n", cfg.Log.Format)
	fmt.Fprintf(w, "  TLS Enabled:      %v\n", cfg.TLS.Enabled)
	fmt.Fprintf(w, "  Metrics:          %v\n", cfg.Metrics.Enabled)

	if cfg.OIDC.Enabled() {
		fmt.Fprintf(w, "  OIDC Issuer:      %s\n", cfg.OIDC.Issuer)
		fmt.Fprintf(w, "  Client ID:        %s\n", cfg.OIDC.ClientID)
		if cfg.OIDC.ClientSecret != "" {
			fmt.Fprintln(w, "  Client Secret:    [SET]")
		} else {
			fmt.Fprintln(w, "  Client Secret:    [NOT SET] (using public client with PKCE)")
		}
	} else {
		yellow.Fprintln(w, "  OIDC logon:       disabled")
	}

	if len(cfg.Auth.Users) == 0 && !cfg.OIDC.Enabled() {
		yellow.Fprintln(w, "\nNo users and no OIDC provider configured: nobody can log on")
	}

	fmt.Fprintln(w)
	green.Fprintln(w, "Ready to start daemon")

	return nil
}

// runHashPassword prints the bcrypt hash of a password
func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		var in io.Reader = os.Stdin
		if cmd != nil {
			in = cmd.InOrStdin()
		}
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout(cmd), hash)
	return nil
}

// controlClient returns a client for the daemon's control socket, taken from
// the configuration when it loads.
func controlClient() *ipc.Client {
	socketPath := defaultSocket
	if cfg, err := loadConfig(); err == nil && cfg.Listen.Socket != "" {
		socketPath = cfg.Listen.Socket
	}
	return ipc.NewClient(socketPath)
}

// runSessionsList prints the daemon's HTTP sessions
func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := controlClient().ListSessions(context.Background())
	if err != nil {
		return err
	}

	w := stdout(cmd)
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	bold := color.New(color.Bold)
	bold.Fprintln(tw, "ID\tUSER\tMETHOD\tCREATED\tEXPIRES")
	for _, s := range sessions {
		user := s.User
		if user == "" {
			user = "-"
		}
		method := s.Method
		if method == "" {
			method = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID[:min(len(s.ID), 16)], user, method,
			s.CreatedAt.Local().Format(time.DateTime),
			s.ExpiresAt.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}

// runSessionsRevoke revokes one HTTP session
func runSessionsRevoke(cmd *cobra.Command, args []string) error {
	revoked, err := controlClient().RevokeSession(context.Background(), args[0])
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(stdout(cmd), "Revoked session %s\n", revoked)
	return nil
}

// getGoVersion returns the Go version used to build the binary
func getGoVersion() string {
	return runtime.Version()
}
