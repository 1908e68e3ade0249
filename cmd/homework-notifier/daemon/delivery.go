package daemon

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/ubuntu/homework-notifier/internal/delivery"
)

func (a *App) installDelivery() {
	mute := &cobra.Command{
		Use:   "mute",
		Short: "Stop sending notifications, only log them",
		Long: `Stop sending notifications to the chat. Polling goes on and changes are still logged.
A running daemon applies the change without restarting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error { return a.setDelivery(false) },
	}
	unmute := &cobra.Command{
		Use:   "unmute",
		Short: "Send notifications to the chat again",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return a.setDelivery(true) },
	}
	a.cmd.AddCommand(mute, unmute)
}

func (a *App) setDelivery(enabled bool) error {
	path := a.deliveryPath()
	if err := delivery.New(path).SetEnabled(enabled); err != nil {
		return err
	}

	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	slog.Info("Updated delivery settings", "path", path, "delivery", state)
	fmt.Printf("Delivery %s\n", state)
	return nil
}
