// ABOUTME: Entry point for chatroom-server, the realtime database backend
// ABOUTME: Serves the REST table API, the websocket change feed and avatar storage

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/Danieldaguy/Chatroom-Testing/internal/config"
	"github.com/Danieldaguy/Chatroom-Testing/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _
   ___| |__   __ _| |_ _ __ ___   ___  _ __ ___
  / __| '_ \ / _' | __| '__/ _ \ / _ \| '_ ' _ \
 | (__| | | | (_| | |_| | | (_) | (_) | | | | | |
  \___|_| |_|\__,_|\__|_|  \___/ \___/|_| |_| |_|
`

// getConfigPath returns the path to the server config file.
// Priority: CHATROOM_CONFIG env var > XDG_CONFIG_HOME/chatroom/server.yaml > ~/.config/chatroom/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATROOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatroom", "server.yaml")
}

// getDataPath returns the chatroom data directory.
// Priority: XDG_DATA_HOME/chatroom > ~/.local/share/chatroom
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatroom")
}

// loadDotEnv reads .env from the working directory if there is one.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chatroom-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s ", cfg.Database.Path)
	gray.Printf("(%s)\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   ")
	if cfg.Storage.Backend == "s3" {
		cyan.Printf("s3://%s", cfg.Storage.S3.Bucket)
		if cfg.Storage.S3.Endpoint != "" {
			gray.Printf(" (%s)", cfg.Storage.S3.Endpoint)
		}
	} else {
		fmt.Print(cfg.Storage.Path)
	}
	fmt.Println()
	if cfg.API.InsertRate > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Inserts:   ")
		yellow.Printf("%.1f/s burst %d\n", cfg.API.InsertRate, cfg.API.InsertBurst)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	fmt.Println()

	logger.Info("starting chatroom-server",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"base_url", cfg.Server.BaseURL,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = newColorHandler(os.Stdout, level)
	}

	return slog.New(handler)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := strings.TrimRight(cfg.Server.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chatroom-server configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	dataPath := getDataPath()
	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	baseURL := prompt(reader, "Public base URL", "http://"+httpAddr)

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "SQLite driver (sqlite/sqlite3)", "sqlite")
	dbPath := prompt(reader, "SQLite database path", filepath.Join(dataPath, "chatroom.db"))

	fmt.Println("\n--- Storage Configuration ---")
	backend := prompt(reader, "Avatar storage (disk/s3)", "disk")
	var storagePath, s3Bucket, s3Region, s3Endpoint string
	if backend == "s3" {
		s3Bucket = prompt(reader, "S3 bucket", "chatroom-avatars")
		s3Region = prompt(reader, "S3 region", "us-east-1")
		s3Endpoint = prompt(reader, "S3 endpoint (leave empty for AWS)", "")
	} else {
		storagePath = prompt(reader, "Storage directory", filepath.Join(dataPath, "storage"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# chatroom-server configuration\n")
	cfg.WriteString("# Generated by chatroom-server init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", baseURL))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", driver))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("storage:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	if backend == "s3" {
		cfg.WriteString("  s3:\n")
		cfg.WriteString(fmt.Sprintf("    bucket: %q\n", s3Bucket))
		cfg.WriteString(fmt.Sprintf("    region: %q\n", s3Region))
		if s3Endpoint != "" {
			cfg.WriteString(fmt.Sprintf("    endpoint: %q\n", s3Endpoint))
			cfg.WriteString("    use_path_style: true\n")
		}
		cfg.WriteString("    access_key_id: \"${AWS_ACCESS_KEY_ID}\"\n")
		cfg.WriteString("    secret_access_key: \"${AWS_SECRET_ACCESS_KEY}\"\n")
	} else {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", storagePath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("realtime:\n")
	cfg.WriteString("  ping_interval: \"30s\"\n")
	cfg.WriteString("  pong_timeout: \"60s\"\n")
	cfg.WriteString("  write_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("api:\n")
	cfg.WriteString("  insert_rate: 5\n")
	cfg.WriteString("  insert_burst: 10\n")
	cfg.WriteString("  dedupe_ttl: \"10m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if _, err := config.Parse([]byte(cfg.String())); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  chatroom-server serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// EOF keeps the default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
