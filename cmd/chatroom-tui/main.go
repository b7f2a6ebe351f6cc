// ABOUTME: Line-oriented chat client over a reconciled session
// ABOUTME: Prints room and direct messages as they settle and sends what the user types

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/Danieldaguy/Chatroom-Testing/internal/client"
	"github.com/Danieldaguy/Chatroom-Testing/internal/realtime"
	"github.com/Danieldaguy/Chatroom-Testing/internal/session"
)

func main() {
	configPath := flag.String("config", getConfigPath(), "Config file path")
	server := flag.String("server", "", "Server URL (overrides config)")
	name := flag.String("name", "", "Username (overrides config)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Server.URL = *server
	}
	if *name != "" {
		cfg.User.Name = *name
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	api := client.New(cfg.Server.URL)
	rt := realtime.New(api.RealtimeURL(), realtime.Options{
		ReconnectAttempts: cfg.Sync.ReconnectAttempts,
		BackoffMin:        cfg.Sync.BackoffMin.Duration,
		BackoffMax:        cfg.Sync.BackoffMax.Duration,
		Logger:            logger,
	})

	screen := newRenderer(out)
	sess, err := session.New(session.Config{
		Backend:             api,
		Transport:           rt,
		Username:            cfg.User.Name,
		AvatarURL:           cfg.User.AvatarURL,
		Room:                cfg.User.Room,
		PageSize:            cfg.Sync.PageSize,
		SnapshotAttempts:    cfg.Sync.SnapshotAttempts,
		ResubscribeAttempts: cfg.Sync.ResubscribeAttempts,
		BackoffMin:          cfg.Sync.BackoffMin.Duration,
		BackoffMax:          cfg.Sync.BackoffMax.Duration,
		EchoWindow:          cfg.Sync.EchoWindow.Duration,
		Logger:              logger,
		OnViewChanged:       screen.onView,
		OnPresenceChanged:   screen.onPresence,
		OnStatusChanged:     screen.onStatus,
	})
	if err != nil {
		rt.Close()
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.Close()

	screen.printf(color.FgCyan, "chatroom-tui connected to %s\n", cfg.Server.URL)
	if cfg.User.Name == "" {
		screen.printf(color.FgYellow, "No username set: use /name <user> before sending.\n")
	} else {
		screen.printf(color.FgHiBlack, "Signed in as %s. /help for commands. Ctrl+C to quit.\n", cfg.User.Name)
	}

	scanner := bufio.NewScanner(in)
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-readErr:
				if err != nil {
					return fmt.Errorf("reading input: %w", err)
				}
			default:
			}
			return nil
		}

		quit, err := handleLine(ctx, sess, screen, line)
		if err != nil {
			screen.printf(color.FgRed, "%v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func setupLogger(cfg LoggingConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}
