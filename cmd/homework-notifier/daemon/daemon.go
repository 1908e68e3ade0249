// Package daemon provides the homework notifier daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ubuntu/homework-notifier/internal/cli"
	"github.com/ubuntu/homework-notifier/internal/constants"
	"github.com/ubuntu/homework-notifier/internal/delivery"
	"github.com/ubuntu/homework-notifier/internal/messages"
	"github.com/ubuntu/homework-notifier/internal/metrics"
	"github.com/ubuntu/homework-notifier/internal/notifier"
	"github.com/ubuntu/homework-notifier/internal/poller"
	"github.com/ubuntu/homework-notifier/internal/practicum"
	"github.com/ubuntu/homework-notifier/internal/telegram"
)

// errNoCredentials is returned when none of the credentials could be found.
var errNoCredentials = errors.New("no credentials found: set at least one of " +
	constants.PracticumTokenEnv + ", " + constants.TelegramTokenEnv + " or " + constants.TelegramChatIDEnv)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *notifier.Service

	ready     chan struct{}
	readyOnce sync.Once
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int  `mapstructure:"verbose" yaml:"verbose,omitempty"`
	JSONLogs  bool `mapstructure:"json-logs" yaml:"json-logs,omitempty"`

	PracticumToken string `mapstructure:"practicumtoken" yaml:"practicumtoken,omitempty"`
	TelegramToken  string `mapstructure:"telegramtoken" yaml:"telegramtoken,omitempty"`
	ChatID         string `mapstructure:"chatid" yaml:"chatid,omitempty"`

	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	TelegramURL    string        `mapstructure:"telegram-url" yaml:"telegram-url,omitempty"`
	RequestTimeout time.Duration `mapstructure:"request-timeout" yaml:"request-timeout,omitempty"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`
	FromDate       int64         `mapstructure:"from-date" yaml:"from-date,omitempty"`
	Lang           string        `mapstructure:"lang" yaml:"lang,omitempty"`
	NotifyOnStart  bool          `mapstructure:"notify-on-start" yaml:"notify-on-start,omitempty"`
	DeliveryConfig string        `mapstructure:"delivery-config" yaml:"delivery-config,omitempty"`
	EnvFile        string        `mapstructure:"env-file" yaml:"env-file,omitempty"`

	MetricsHost  string        `mapstructure:"metrics-host" yaml:"metrics-host,omitempty"`
	MetricsPort  int           `mapstructure:"metrics-port" yaml:"metrics-port,omitempty"`
	ReadTimeout  time.Duration `mapstructure:"read-timeout" yaml:"read-timeout,omitempty"`
	WriteTimeout time.Duration `mapstructure:"write-timeout" yaml:"write-timeout,omitempty"`
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "Homework review notifier",
		Long:          "Homework review notifier polls the Practicum homework statuses and sends a Telegram message for each review change.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}

			// The env file is loaded before decoding so that its credentials are picked up.
			if err := cli.LoadEnvFile(a.viper.GetString("env-file"), !a.viper.IsSet("env-file")); err != nil {
				return err
			}
			a.bindCredentials()

			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	if err := a.viper.BindPFlags(a.cmd.Flags()); err != nil {
		return nil, err
	}

	a.installVersion()
	a.installDelivery()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")
	cmd.PersistentFlags().StringVar(&app.config.EnvFile, "env-file", constants.DefaultEnvFile, "dotenv file holding the credentials")
	cmd.PersistentFlags().StringVar(&app.config.DeliveryConfig, "delivery-config", "", "path to the delivery settings file (default "+constants.GetDefaultDeliveryPath()+")")

	// Polling flags
	cmd.Flags().StringVar(&app.config.Endpoint, "endpoint", constants.DefaultEndpoint, "homework statuses endpoint")
	cmd.Flags().StringVar(&app.config.TelegramURL, "telegram-url", constants.DefaultTelegramURL, "Telegram Bot API base URL")
	cmd.Flags().DurationVar(&app.config.RequestTimeout, "request-timeout", constants.DefaultRequestTimeout, "timeout of a single request to a remote service")
	cmd.Flags().DurationVar(&app.config.Interval, "interval", constants.DefaultInterval, "delay between two polling cycles")
	cmd.Flags().Int64Var(&app.config.FromDate, "from-date", 0, "only report statuses changed after this unix timestamp")
	cmd.Flags().StringVar(&app.config.Lang, "lang", "en", "language of the notifications (en, ru)")
	cmd.Flags().BoolVar(&app.config.NotifyOnStart, "notify-on-start", false, "send the notifications of the first cycle instead of only recording the submissions")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsHost, "metrics-host", "", "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsPort, "metrics-port", constants.DefaultMetricsPort, "port for the metrics endpoint")

	if err := cmd.MarkPersistentFlagFilename("delivery-config", "toml"); err != nil {
		panic(fmt.Sprintf("failed to mark delivery-config flag as filename: %v", err))
	}
	if err := cmd.MarkPersistentFlagFilename("env-file"); err != nil {
		panic(fmt.Sprintf("failed to mark env-file flag as filename: %v", err))
	}
}

// bindCredentials reads the credentials from their unprefixed environment variables.
func (a *App) bindCredentials() {
	for key, env := range map[string]string{
		"practicumtoken": constants.PracticumTokenEnv,
		"telegramtoken":  constants.TelegramTokenEnv,
		"chatid":         constants.TelegramChatIDEnv,
	} {
		// BindEnv only fails without a key.
		_ = a.viper.BindEnv(key, env)
	}
}

// Run executes the command and associated process, returning an error if any.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a *App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a *App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit shuts down the daemon. A graceful Quit lets the running cycle finish its
// deliveries, force drops it.
func (a *App) Quit(force bool) {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(force)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a *App) RootCmd() *cobra.Command {
	return a.cmd
}

func (a *App) setReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// deliveryPath returns the delivery settings file in use.
func (a *App) deliveryPath() string {
	if a.config.DeliveryConfig != "" {
		return a.config.DeliveryConfig
	}
	return constants.GetDefaultDeliveryPath()
}

// checkCredentials warns about each missing credential. It only fails when all of them are missing.
func (a *App) checkCredentials() error {
	creds := []struct {
		env   string
		value string
	}{
		{constants.PracticumTokenEnv, a.config.PracticumToken},
		{constants.TelegramTokenEnv, a.config.TelegramToken},
		{constants.TelegramChatIDEnv, a.config.ChatID},
	}

	var missing int
	for _, c := range creds {
		if c.value == "" {
			slog.Warn("Missing credential", "env", c.env)
			missing++
		}
	}
	if missing == len(creds) {
		return errNoCredentials
	}
	return nil
}

func (a *App) run() (err error) {
	defer a.setReady()

	if err := a.checkCredentials(); err != nil {
		return err
	}

	if a.config.Lang != "en" && a.config.Lang != "ru" {
		slog.Warn("Unsupported language, falling back to the closest supported one", "lang", a.config.Lang)
	}

	fetcher := practicum.New(a.config.PracticumToken,
		practicum.WithEndpoint(a.config.Endpoint),
		practicum.WithTimeout(a.config.RequestTimeout))
	bot := telegram.New(a.config.TelegramToken, a.config.ChatID,
		telegram.WithBaseURL(a.config.TelegramURL),
		telegram.WithTimeout(a.config.RequestTimeout))
	switcher := delivery.New(a.deliveryPath())

	registry := prometheus.NewRegistry()
	p, err := poller.New(fetcher, bot, switcher, messages.New(a.config.Lang), registry,
		poller.WithInterval(a.config.Interval),
		poller.WithFromDate(a.config.FromDate),
		poller.WithNotifyOnStart(a.config.NotifyOnStart))
	if err != nil {
		return fmt.Errorf("failed to create poller: %v", err)
	}

	metricsServer := metrics.New(metrics.Config{
		Host:         a.config.MetricsHost,
		Port:         a.config.MetricsPort,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
	}, registry, p.Health)

	a.daemon = notifier.New(context.Background(), p, metricsServer)
	a.setReady()

	return a.daemon.Run()
}
