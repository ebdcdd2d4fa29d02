// ABOUTME: First-run commands: interactive init, one-step bootstrap and token minting
// ABOUTME: Minted tokens are recorded in the audit log of the configured store

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/wrap-gateway/internal/auth"
	"github.com/2389/wrap-gateway/internal/config"
	"github.com/2389/wrap-gateway/internal/policy"
	"github.com/2389/wrap-gateway/internal/store"
)

const (
	defaultTokenTTL = 30 * 24 * time.Hour
	cliActor        = "cli"
)

// configAnswers are the values written into a generated config file.
type configAnswers struct {
	HTTPAddr      string
	GRPCAddr      string
	DBPath        string
	DefaultMode   string
	JWTSecret     string
	EncryptionKey string
	Website       bool
	MCP           bool
	Tailscale     bool
	TSHostname    string
	LogLevel      string
	LogFormat     string
}

func randomKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// renderConfig produces the YAML for a generated config file.
func renderConfig(a configAnswers, generatedBy string) string {
	var cfg strings.Builder
	cfg.WriteString("# wrap-gateway configuration\n")
	fmt.Fprintf(&cfg, "# Generated by wrap-gateway %s\n\n", generatedBy)

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	if a.GRPCAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString("  driver: \"sqlite\"\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", a.DBPath)

	if a.JWTSecret != "" {
		cfg.WriteString("auth:\n")
		fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", a.JWTSecret)
	}

	cfg.WriteString("gateway:\n")
	fmt.Fprintf(&cfg, "  default_mode: %q\n", a.DefaultMode)
	cfg.WriteString("  dispatch_timeout: \"30s\"\n")
	cfg.WriteString("  dedupe_ttl: \"5m\"\n\n")

	cfg.WriteString("channels:\n")
	cfg.WriteString("  website:\n")
	fmt.Fprintf(&cfg, "    enabled: %t\n", a.Website)
	cfg.WriteString("  email:\n")
	cfg.WriteString("    enabled: false\n")
	cfg.WriteString("    api_key: \"${RESEND_API_KEY}\"\n")
	cfg.WriteString("  social_dm:\n")
	cfg.WriteString("    enabled: false\n")
	cfg.WriteString("    provider: \"graph\"\n\n")

	if a.EncryptionKey != "" {
		cfg.WriteString("credentials:\n")
		fmt.Fprintf(&cfg, "  encryption_key: %q\n\n", a.EncryptionKey)
	}

	cfg.WriteString("mcp:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n\n", a.MCP)

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func writeConfig(path, content string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("wrap-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a configAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "gateway.db"))

	fmt.Println("\n--- Execution ---")
	for {
		a.DefaultMode = strings.ToUpper(prompt(reader, "Default operating mode (LIVE/MANUAL/OFF)", string(policy.ModeManual)))
		if _, err := policy.ParseMode(a.DefaultMode); err == nil {
			break
		}
		fmt.Println("  mode must be LIVE, MANUAL or OFF")
	}
	a.Website = yes(prompt(reader, "Enable website replies?", "yes"))
	a.MCP = yes(prompt(reader, "Enable the MCP endpoint for agents?", "yes"))

	fmt.Println("\n--- Security ---")
	if yes(prompt(reader, "Require bearer tokens?", "yes")) {
		secret, err := randomKey()
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		a.JWTSecret = secret
	}
	if yes(prompt(reader, "Encrypt stored channel credentials?", "yes")) {
		key, err := randomKey()
		if err != nil {
			return fmt.Errorf("generating encryption key: %w", err)
		}
		a.EncryptionKey = key
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, "Tailscale hostname", "wrap-gateway")
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := writeConfig(outputFile, renderConfig(a, "init"), 0o600); err != nil {
		return err
	}
	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  wrap-gateway serve")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		fmt.Println()
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}

// parseRoles splits a comma-separated role list and rejects unknown roles.
func parseRoles(s string) ([]string, error) {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		switch r {
		case auth.RoleProducer, auth.RoleOperator, auth.RoleAdmin:
			roles = append(roles, r)
		default:
			return nil, fmt.Errorf("unknown role %q (want producer, operator or admin)", r)
		}
	}
	if len(roles) == 0 {
		return nil, errors.New("at least one role is required")
	}
	return roles, nil
}

// mintToken signs a token for principal and records it in the audit log.
func mintToken(ctx context.Context, cfg *config.Config, principal string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", time.Time{}, errors.New("auth.jwt_secret is not configured; tokens would not be checked")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(principal, roles, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}
	expiresAt := time.Now().Add(ttl).UTC()

	st, err := store.Open(store.Options{Driver: cfg.Database.Driver, Path: cfg.Database.Path, DSN: cfg.Database.DSN})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	err = st.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      cliActor,
		Action:     store.AuditCreateToken,
		TargetType: "principal",
		TargetID:   principal,
		Detail: map[string]any{
			"roles":      roles,
			"expires_at": expiresAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("recording token in audit log: %w", err)
	}
	return token, expiresAt, nil
}

func runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	principal := fs.String("principal", "", "principal ID the token identifies")
	rolesFlag := fs.String("roles", auth.RoleProducer, "comma-separated roles: producer, operator, admin")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*principal) == "" {
		return errors.New("--principal is required")
	}
	roles, err := parseRoles(*rolesFlag)
	if err != nil {
		return err
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, expiresAt, err := mintToken(ctx, cfg, strings.TrimSpace(*principal), roles, *ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "roles %s, expires %s\n", strings.Join(roles, ","), expiresAt.Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

// runBootstrap is the one-command setup: write a config with fresh secrets
// if none exists, then mint an admin token and save it for wrap-admin.
func runBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	name := fs.String("name", "", "principal ID of the first admin")
	fs.StringVar(name, "n", "", "shorthand for --name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	displayName := strings.TrimSpace(*name)
	if displayName == "" {
		return errors.New("--name flag is required")
	}
	if len(displayName) > 100 {
		return errors.New("name exceeds maximum length of 100 characters")
	}

	configPath := config.DefaultPath()
	tokenPath := getTokenPath()
	if _, err := os.Stat(tokenPath); err == nil {
		return fmt.Errorf("bootstrap already complete: %s exists", tokenPath)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secret, err := randomKey()
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		key, err := randomKey()
		if err != nil {
			return fmt.Errorf("generating encryption key: %w", err)
		}
		dbPath := filepath.Join(getDataPath(), "gateway.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		content := renderConfig(configAnswers{
			HTTPAddr:      "localhost:8080",
			DBPath:        dbPath,
			DefaultMode:   string(policy.ModeManual),
			JWTSecret:     secret,
			EncryptionKey: key,
			Website:       true,
			MCP:           true,
			LogLevel:      "info",
			LogFormat:     "text",
		}, "bootstrap")
		if err := writeConfig(configPath, content, 0o600); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	roles := []string{auth.RoleAdmin}
	token, expiresAt, err := mintToken(ctx, cfg, displayName, roles, defaultTokenTTL)
	if err != nil {
		return err
	}
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Admin Principal")
	cyan.Println("  ---------------")
	fmt.Printf("  Principal:    %s\n", displayName)
	fmt.Printf("  Roles:        %s\n", strings.Join(roles, ","))
	fmt.Printf("  Default mode: %s\n", cfg.Mode())
	fmt.Printf("  Token:        %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    wrap-gateway serve     # start the gateway")
	fmt.Println("    wrap-admin mode        # check the operating mode")
	fmt.Println()
	return nil
}
