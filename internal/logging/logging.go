package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"meshchat/internal/config"
	"meshchat/internal/errors"
	"meshchat/internal/filesystem"
)

// SetupLogger initializes structured logging. Output always goes to a
// timestamped file under logs/; console output is added only when the node
// runs in plain mode, because the TUI owns the terminal.
func SetupLogger(console bool) error {
	if err := filesystem.EnsureDirectoryExists("logs"); err != nil {
		return err
	}

	logFileName := filepath.Join("logs",
		"meshchat_"+time.Now().Format("20060102_150405")+".log")

	logFile, err := os.Create(logFileName)
	if err != nil {
		slog.Warn("Failed to create log file, using console only", "error", err)
		return nil
	}

	var out io.Writer = logFile
	if console {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: false,
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))
	slog.Info("Logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogConfig logs the active configuration at startup.
func LogConfig(cfg *config.Config) {
	slog.Info("Configuration loaded",
		"listen_address", cfg.ListenAddress,
		"nickname", cfg.Nickname,
		"downloads_dir", cfg.DownloadsDir,
		"chunk_size", cfg.ChunkSize,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"read_timeout", cfg.ReadTimeout,
		"initial_peers", len(cfg.Peers))
}

// LogError logs an error with appropriate context based on its category.
func LogError(err error, context string) {
	switch e := err.(type) {
	case *errors.NetworkError:
		slog.Error("Network error",
			"context", context,
			"operation", e.Op,
			"address", e.Addr,
			"error_type", "network")
	case *errors.ProtocolError:
		slog.Error("Protocol error",
			"context", context,
			"operation", e.Op,
			"message", e.Message,
			"error_type", "protocol")
	case *errors.FileSystemError:
		slog.Error("File system error",
			"context", context,
			"operation", e.Op,
			"path", e.Path,
			"error_type", "filesystem")
	case *errors.ValidationError:
		slog.Error("Validation error",
			"context", context,
			"field", e.Field,
			"message", e.Message,
			"error_type", "validation")
	default:
		slog.Error("Unhandled error",
			"context", context,
			"error", err,
			"error_type", "unknown")
	}
}
