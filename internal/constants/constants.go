// Package constants is responsible for defining the constants used in the application.
// It also provides utility functions to get the default settings paths.
package constants

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the notifier command.
	CmdName = "homework-notifier"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn
)

// Service constants.
const (
	// DefaultEndpoint is the homework statuses endpoint of the Practicum API.
	DefaultEndpoint = "https://practicum.yandex.ru/api/user_api/homework_statuses/"

	// DefaultTelegramURL is the base URL of the Telegram Bot API.
	DefaultTelegramURL = "https://api.telegram.org"

	// DefaultInterval is the delay between two polling cycles.
	DefaultInterval = 600 * time.Second

	// DefaultRequestTimeout bounds a single HTTP request to a remote service.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultEnvFile is the dotenv file read for credentials.
	DefaultEnvFile = ".env"

	// DeliveryFileName is the default base name of the delivery settings file.
	DeliveryFileName = "delivery.toml"

	// DefaultMetricsPort is the default port of the metrics endpoint.
	DefaultMetricsPort = 2114
)

// Environment variables holding the credentials.
const (
	PracticumTokenEnv = "PRACTICUM_TOKEN"
	TelegramTokenEnv  = "TELEGRAM_TOKEN"
	TelegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

type options struct {
	baseDir func() (string, error)
}

type option func(*options)

// GetDefaultConfigPath is the default directory holding the notifier settings.
func GetDefaultConfigPath(opts ...option) string {
	o := options{baseDir: os.UserConfigDir}
	for _, opt := range opts {
		opt(&o)
	}

	return filepath.Join(getBaseDir(o.baseDir), CmdName)
}

// GetDefaultDeliveryPath is the default path of the delivery settings file.
func GetDefaultDeliveryPath(opts ...option) string {
	return filepath.Join(GetDefaultConfigPath(opts...), DeliveryFileName)
}

// getBaseDir returns an empty string instead of failing when baseDirFunc errors out.
func getBaseDir(baseDirFunc func() (string, error)) string {
	dir, err := baseDirFunc()
	if err != nil {
		return ""
	}
	return dir
}
