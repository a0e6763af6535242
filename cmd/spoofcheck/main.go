// Package main is the spoofcheck command line.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/spoofcheck"
	"github.com/shineum/spoofcheck/internal/config"
	"github.com/shineum/spoofcheck/internal/dmarc"
	"github.com/shineum/spoofcheck/internal/email"
	"github.com/shineum/spoofcheck/internal/report"
	"github.com/shineum/spoofcheck/internal/smtp"
	smtptls "github.com/shineum/spoofcheck/internal/tls"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by the subcommands.
type app struct {
	configPath string
	logOut     io.Writer
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	a := &app{logOut: logOut}

	root := &cobra.Command{
		Use:           "spoofcheck",
		Short:         "Check DMARC posture and exercise it with spoofed test mail",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			a.logger = setupLogger(a.logOut, cfg.Logging.Level)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML configuration file (optional)")

	root.AddCommand(a.checkCmd(), a.sendCmd(), a.captureCmd())
	return root
}

func (a *app) checkCmd() *cobra.Command {
	var nameserver string

	cmd := &cobra.Command{
		Use:   "check <domain>...",
		Short: "Resolve and classify the DMARC policy of one or more domains",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("nameserver") {
				a.cfg.DNS.Nameserver = nameserver
			}
			lookuper := dmarc.NewDNSLookuper(a.cfg.DNS.Nameserver, a.cfg.DNS.Timeout)
			resolver := dmarc.NewResolver(lookuper, a.logger)

			a.logger.Debug("resolving", "nameserver", lookuper.Nameserver(), "domains", args)

			out := cmd.OutOrStdout()
			for _, domain := range args {
				p := resolver.Resolve(cmd.Context(), domain)
				fmt.Fprintf(out, "Domain: %s\n", p.Domain)
				fmt.Fprintf(out, "Policy: %s\n", p.Policy)
				fmt.Fprintf(out, "Record: %s\n", p.RawRecord)
				fmt.Fprintf(out, "Assessment: %s\n", p.Assessment())
				if p.Err != nil {
					fmt.Fprintf(out, "Lookup error: %v\n", p.Err)
				}
				if len(args) > 1 {
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nameserver, "nameserver", "", "nameserver host[:port] (default: first resolv.conf entry)")
	return cmd
}

type sendFlags struct {
	from, subject, body, attach string
	to                          []string

	method   string
	server   string
	port     int
	security string
	username string
	password string
	apiKey   string
	insecure bool
}

func (a *app) sendCmd() *cobra.Command {
	f := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build one spoofed message and send it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.applySendFlags(cmd, f)

			msg := email.SpoofMessage{
				From:           f.from,
				To:             strings.Join(f.to, ", "),
				Subject:        f.subject,
				Body:           f.body,
				AttachmentPath: f.attach,
			}
			payload, err := spoofcheck.BuildMessage(msg)
			if err != nil {
				return err
			}

			tcfg, err := a.cfg.SenderConfig(a.logger)
			if err != nil {
				return err
			}
			sender, err := spoofcheck.NewSender(cmd.Context(), tcfg, a.logger)
			if err != nil {
				return err
			}

			if err := sender.Send(cmd.Context(), &email.Outbound{From: f.from, To: f.to, Payload: payload}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent via %s to %s\n", sender.Name(), strings.Join(f.to, ", "))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.from, "from", "", "From header and envelope sender")
	fl.StringSliceVar(&f.to, "to", nil, "recipient address (repeatable)")
	fl.StringVar(&f.subject, "subject", "", "Subject header")
	fl.StringVar(&f.body, "body", "", "plain text body")
	fl.StringVar(&f.attach, "attach", "", "path of a file to attach")
	fl.StringVar(&f.method, "method", "", "transport method: smtp, resend, ses or graph")
	fl.StringVar(&f.server, "server", "", "SMTP server host")
	fl.IntVar(&f.port, "port", 0, "SMTP or relay port")
	fl.StringVar(&f.security, "security", "", "SMTP security: plain, starttls or tls")
	fl.StringVar(&f.username, "username", "", "SMTP username")
	fl.StringVar(&f.password, "password", "", "SMTP password")
	fl.StringVar(&f.apiKey, "api-key", "", "relay API key")
	fl.BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// applySendFlags layers explicitly set flags over the loaded configuration.
func (a *app) applySendFlags(cmd *cobra.Command, f *sendFlags) {
	t := &a.cfg.Transport
	fl := cmd.Flags()
	if fl.Changed("method") {
		t.Method = strings.ToLower(f.method)
	}
	if fl.Changed("server") {
		t.SMTP.Server = f.server
	}
	if fl.Changed("port") {
		t.SMTP.Port = f.port
		t.Resend.Port = f.port
	}
	if fl.Changed("security") {
		t.SMTP.Security = f.security
	}
	if fl.Changed("username") {
		t.SMTP.Username = f.username
	}
	if fl.Changed("password") {
		t.SMTP.Password = f.password
	}
	if fl.Changed("api-key") {
		t.Resend.APIKey = f.apiKey
	}
	if fl.Changed("insecure") {
		t.SMTP.InsecureSkipVerify = f.insecure
	}
}

func (a *app) captureCmd() *cobra.Command {
	var (
		listen string
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run the capture server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("listen") {
				cfg.Capture.Listen = listen
			}

			tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Capture.Hostname)
			if err != nil {
				return fmt.Errorf("failed to setup TLS: %w", err)
			}
			tlsMode := "self-signed"
			if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
				tlsMode = "file"
			}

			var sink report.Sink = report.NewLogSink(a.logger)
			if !quiet {
				sink = report.Multi{sink, report.NewTextSinkWithWriter(cmd.OutOrStdout())}
			}

			server := smtp.New(smtp.ServerConfig{
				ListenAddr:      cfg.Capture.Listen,
				Hostname:        cfg.Capture.Hostname,
				Sink:            sink,
				TLSConfig:       tlsConfig,
				ImplicitTLS:     cfg.Capture.ImplicitTLS,
				AuthUsername:    cfg.Capture.Username,
				AuthPassword:    cfg.Capture.Password,
				MaxMessageBytes: cfg.Capture.MaxMessageSize,
				Logger:          a.logger,
			})

			a.logger.Info("starting capture server",
				"listen", cfg.Capture.Listen,
				"auth_enabled", cfg.CaptureAuthEnabled(),
				"tls_mode", tlsMode,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := server.ListenAndServe(ctx); err != nil {
				return err
			}
			a.logger.Info("capture server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, 0.0.0.0:1025)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log events only, no text report")
	return cmd
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger installs a JSON handler at the given level as the default
// logger and returns it.
func setupLogger(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

