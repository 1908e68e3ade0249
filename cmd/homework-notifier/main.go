// Package main is the entry point for the homework notifier daemon.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ubuntu/homework-notifier/cmd/homework-notifier/daemon"
)

func main() {
	a, err := daemon.New()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	os.Exit(run(a))
}

// Exit codes of the notifier.
const (
	exitOK           = 0
	exitRuntimeError = 1
	exitUsageError   = 2
)

type app interface {
	Run() error
	UsageError() bool
	Hup() bool
	Quit(force bool)
}

func run(a app) int {
	defer installSignalHandler(a)()

	if err := a.Run(); err != nil {
		slog.Error(err.Error())

		if a.UsageError() {
			return exitUsageError
		}
		return exitRuntimeError
	}

	return exitOK
}

// installSignalHandler stops the app on SIGINT and SIGTERM. The first signal lets the
// running cycle deliver its messages, a second one forces the stop. SIGHUP is left to the
// app. The returned function stops the handler.
func installSignalHandler(a app) func() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var stopping bool
		for v := range c {
			switch v {
			case syscall.SIGINT, syscall.SIGTERM:
				if stopping {
					slog.Warn("Received another signal, forcing stop", "signal", v)
					a.Quit(true)
					return
				}
				stopping = true
				slog.Info("Received signal, stopping after the current cycle", "signal", v)
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.Quit(false)
				}()
			case syscall.SIGHUP:
				if a.Hup() {
					a.Quit(false)
					return
				}
			}
		}
		slog.Debug("Signal channel closed")
	}()

	return func() {
		signal.Stop(c)
		close(c)
		wg.Wait()
	}
}
