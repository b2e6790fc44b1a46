// realmd - multiplayer world server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"realm-server/internal/auth"
	"realm-server/internal/config"
	"realm-server/internal/kv"
	"realm-server/internal/server"
	"realm-server/internal/storage"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = cmdServe(os.Args[2:])
	case "account":
		err = cmdAccount(os.Args[2:])
	case "audit":
		err = cmdAudit(os.Args[2:])
	case "version":
		fmt.Printf("realmd %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: realmd <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                 Start the world server")
	fmt.Println("  account add [--admin] <username>      Create an account (prompts for password)")
	fmt.Println("  account token <username>              Issue a login token (prompts for password)")
	fmt.Println("  audit [--limit N]                     Show recent audit events (default: 20)")
	fmt.Println("  version                               Show version")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (built-in defaults when omitted)")
}

// loadConfig parses the shared --config flag plus whatever the caller
// registered on fs.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *path == "" {
		return config.Default(), nil
	}
	return config.Load(*path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (overrides config)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no JWT secret configured; using a random per-process secret, only guest logins will work")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()
	logger.Info("database ready", "path", cfg.Database.Path)

	cache := kv.NewMemory()
	if err := server.SeedWorld(ctx, cache, cfg); err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Config: cfg,
		Logger: logger,
		Store:  store,
		KV:     cache,
	})
	if err != nil {
		return err
	}
	logger.Info("realmd starting", "version", version)
	return srv.Run(ctx)
}

func cmdAccount(args []string) error {
	if len(args) < 1 {
		return errors.New("account subcommand required: add, token")
	}
	switch args[0] {
	case "add":
		return cmdAccountAdd(args[1:])
	case "token":
		return cmdAccountToken(args[1:])
	default:
		return fmt.Errorf("unknown account subcommand: %s", args[0])
	}
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func cmdAccountAdd(args []string) error {
	fs := flag.NewFlagSet("account add", flag.ExitOnError)
	isAdmin := fs.Bool("admin", false, "grant every permission")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: realmd account add [--admin] <username>")
	}
	username, err := auth.NormalizeUsername(fs.Arg(0))
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.GetAccount(ctx, username); err == nil {
		return fmt.Errorf("account '%s' already exists", username)
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	na := storage.NewAccount{Username: username, PasswordHash: hash, Role: storage.RolePlayer}
	for _, sp := range kv.DefaultSpells {
		na.Spells = append(na.Spells, sp.Name)
	}
	if *isAdmin {
		na.Role = storage.RoleAdmin
		na.Permissions = []string{server.PermAll}
	}
	if _, err := store.CreateAccount(ctx, na); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	fmt.Printf("Account '%s' created (role: %s)\n", username, na.Role)
	return nil
}

func cmdAccountToken(args []string) error {
	fs := flag.NewFlagSet("account token", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: realmd account token <username>")
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	acc, err := store.GetAccount(context.Background(), fs.Arg(0))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no account named '%s'", fs.Arg(0))
	}
	if err != nil {
		return err
	}
	if acc.Banned {
		return errors.New("account is banned")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	if !auth.CheckPassword(password, acc.PasswordHash) {
		return errors.New("wrong password")
	}

	tokens, err := tokenService(cfg.Auth)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(acc.ID, acc.Username)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// tokenService builds the signer for offline token issue. Without a
// configured secret the server would never accept what it signs.
func tokenService(cfg config.AuthConfig) (*auth.Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is not set; the server could not validate this token")
	}
	return auth.NewService(cfg.JWTSecret, cfg.TokenDuration), nil
}

func cmdAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of events")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	events, err := store.RecentAudit(context.Background(), *limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No audit events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tACTOR\tTARGET\tDETAIL")
	fmt.Fprintln(w, strings.Repeat("-", 19)+"\t------\t-----\t------\t------")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Actor, e.Target, e.Detail)
	}
	return w.Flush()
}
