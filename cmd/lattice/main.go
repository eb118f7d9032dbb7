package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/api"
	"github.com/Mindburn-Labs/lattice/pkg/config"
	"github.com/Mindburn-Labs/lattice/pkg/contracts"
	"github.com/Mindburn-Labs/lattice/pkg/orchestrator"
)

const version = "1.0.0"

const defaultConfigPath = "configs/lattice.yaml"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stdout, stderr)
	case "submit":
		return runSubmit(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "check-config":
		return runCheckConfig(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "lattice %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sLattice %s%s\n", colorBold+colorCyan, version, colorReset)
	fmt.Fprintf(w, "%sNodes advise. Governance decides.%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  lattice <command> [flags]")
	fmt.Fprintln(w, "")
	printCommand(w, "serve", "Run the HTTP submission server (-config)")
	printCommand(w, "submit", "Run one session in-process (-config, -text, -domain, -json)")
	printCommand(w, "status", "Fetch a session from a running server (-addr, -id, -token)")
	printCommand(w, "check-config", "Validate a configuration file (-config)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-13s%s %s\n", colorGreen, name, colorReset, desc)
}

// loadConfig reads the file and installs the process logger at the
// configured level.
func loadConfig(path string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", defaultConfigPath, "Path to the configuration file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	limiter := api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	defer limiter.Stop()
	server := api.NewServer(a.orch,
		api.WithRateLimiter(limiter),
		api.WithAuthenticator(api.NewAuthenticator(cfg.Server.JWTSecret)),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("lattice listening",
			"addr", cfg.Server.Addr,
			"nodes", a.registry.Len(),
			"required_quorum", cfg.Governance.RequiredQuorum,
			"max_response_time_ms", cfg.Governance.MaxResponseTimeMs,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	_, _ = fmt.Fprintf(stdout, "lattice ready: %s\n", cfg.Server.Addr)

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
		code = 1
	}
	if err := a.Close(shutdownCtx); err != nil {
		slog.Error("component shutdown", "error", err)
		code = 1
	}
	return code
}

func runSubmit(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath string
		text       string
		domain     string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", defaultConfigPath, "Path to the configuration file")
	cmd.StringVar(&text, "text", "", "Directive text (REQUIRED)")
	cmd.StringVar(&domain, "domain", "", "Optional domain tag")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(text) == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -text is required")
		cmd.Usage()
		return 2
	}

	cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	res, err := a.orch.Submit(ctx, orchestrator.SubmitRequest{Text: text, DomainTag: domain})

	// Flush the audit entry before reporting.
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		slog.Warn("component shutdown", "error", cerr)
	}

	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return 0
	}
	printResult(stdout, res)
	return 0
}

func printResult(w io.Writer, res contracts.SessionResult) {
	_, _ = fmt.Fprintf(w, "Session:  %s\n", res.SessionID)
	_, _ = fmt.Fprintf(w, "Outcome:  %s", res.FinalState)
	if res.VetoReason != "" {
		_, _ = fmt.Fprintf(w, " (%s)", res.VetoReason)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Elapsed:  %dms\n", res.ElapsedMs)
	if res.AuditID != "" {
		_, _ = fmt.Fprintf(w, "Audit:    %s\n", res.AuditID)
	}
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tVOTE\tLATENCY\tNOTE")
	for _, v := range res.Votes {
		note := v.Rationale
		if v.Error != "" {
			note = "error: " + v.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", v.VoterID, v.VoteType, v.LatencyMs, note)
	}
	_ = tw.Flush()
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		addr  string
		id    string
		token string
	)
	cmd.StringVar(&addr, "addr", "http://localhost:8080", "Base URL of a running lattice server")
	cmd.StringVar(&id, "id", "", "Session ID (REQUIRED)")
	cmd.StringVar(&token, "token", os.Getenv("LATTICE_TOKEN"), "Bearer token")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -id is required")
		cmd.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	endpoint := strings.TrimRight(addr, "/") + "/api/v1/sessions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Status request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var problem api.ProblemDetail
		if json.NewDecoder(resp.Body).Decode(&problem) == nil && problem.Detail != "" {
			_, _ = fmt.Fprintf(stderr, "Status request failed: %d %s\n", resp.StatusCode, problem.Detail)
		} else {
			_, _ = fmt.Fprintf(stderr, "Status request failed: status %d\n", resp.StatusCode)
		}
		return 1
	}

	var rec contracts.SessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: decode session: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Session:  %s\n", rec.SessionID)
	_, _ = fmt.Fprintf(stdout, "State:    %s\n", rec.State)
	_, _ = fmt.Fprintf(stdout, "Created:  %s\n", rec.CreatedAt.Format(time.RFC3339Nano))
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FROM\tTO\tAT\tNOTE")
	for _, tr := range rec.History {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tr.From, tr.To, tr.At.Format(time.RFC3339Nano), tr.Note)
	}
	_ = tw.Flush()
	return 0
}

func runCheckConfig(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("check-config", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", defaultConfigPath, "Path to the configuration file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	if _, _, err := buildGovernance(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Configuration OK: %s\n", *configPath)
	_, _ = fmt.Fprintf(stdout, "  version:           %s\n", cfg.Version)
	_, _ = fmt.Fprintf(stdout, "  nodes:             %d\n", len(cfg.Nodes))
	_, _ = fmt.Fprintf(stdout, "  required quorum:   %d\n", cfg.Governance.RequiredQuorum)
	_, _ = fmt.Fprintf(stdout, "  max response time: %dms\n", cfg.Governance.MaxResponseTimeMs)
	_, _ = fmt.Fprintf(stdout, "  audit required:    %t (%s)\n", cfg.Governance.AuditRequired, cfg.Audit.Backend)
	_, _ = fmt.Fprintf(stdout, "  compliance checks: %d\n", len(cfg.Governance.ComplianceChecks))
	return 0
}
