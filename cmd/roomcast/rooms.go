package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"roomcast/internal/client"
	"roomcast/internal/protocol"
)

func roomsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := &roomsHandler{
				connected: make(chan struct{}, 1),
				rooms:     make(chan []protocol.RoomSummary, 1),
			}
			c, err := client.New(client.Options{
				URL:     flagServer,
				Handler: h,
				Logger:  slog.Default(),
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			go c.Run(ctx)

			select {
			case <-h.connected:
			case <-ctx.Done():
				return fmt.Errorf("connect to %s: %w", flagServer, ctx.Err())
			}
			if err := c.RequestRooms(); err != nil {
				return err
			}

			select {
			case rooms := <-h.rooms:
				if len(rooms) == 0 {
					fmt.Println("no active rooms")
					return nil
				}
				for _, r := range rooms {
					fmt.Printf("%s\t%d participant(s)\n", r.ID, r.ParticipantsCount)
				}
				return nil
			case <-ctx.Done():
				return fmt.Errorf("waiting for room list: %w", ctx.Err())
			}
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall timeout")
	return cmd
}

type roomsHandler struct {
	client.BaseHandler
	connected chan struct{}
	rooms     chan []protocol.RoomSummary
}

func (h *roomsHandler) OnConnected(string) {
	select {
	case h.connected <- struct{}{}:
	default:
	}
}

func (h *roomsHandler) OnRoomsList(rooms []protocol.RoomSummary) {
	select {
	case h.rooms <- rooms:
	default:
	}
}
