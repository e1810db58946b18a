package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"roomcast/internal/cache"
	"roomcast/internal/client"
	"roomcast/internal/protocol"
	"roomcast/internal/rtc"
)

func joinCmd() *cobra.Command {
	var (
		roomID   string
		userName string
		cacheDir string
		stun     []string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room: negotiate with its peers and chat from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if roomID == "" {
				return fmt.Errorf("--room is required")
			}
			if userName == "" {
				userName = "cli-" + uuid.NewString()[:8]
			}
			if cacheDir == "" {
				base, err := os.UserCacheDir()
				if err != nil {
					base = os.TempDir()
				}
				cacheDir = filepath.Join(base, "roomcast")
			}

			log := slog.Default()
			store := cache.NewStore(cacheDir, log)
			defer store.Close()

			agent := &printingAgent{
				Agent:     client.NewAgent(log, store, userName),
				connected: make(chan struct{}, 1),
			}
			c, err := client.New(client.Options{
				URL:     flagServer,
				Handler: agent,
				Logger:  log,
			})
			if err != nil {
				return err
			}
			factory := rtc.NewAPI(stun, logging.NewDefaultLoggerFactory())
			agent.Bind(c, factory)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				if err := c.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("client stopped", "err", err)
				}
			}()

			agent.waitConnected(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err := c.Join(roomID, uuid.NewString(), userName); err != nil {
				return err
			}
			for _, msg := range agent.CachedMessages() {
				printMessage(msg)
			}

			fmt.Printf("joined %s as %s; type to chat, ctrl-c to leave\n", roomID, userName)
			go readStdin(ctx, agent.Agent)

			<-ctx.Done()
			c.Leave()
			return nil
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "room id to join")
	cmd.Flags().StringVar(&userName, "name", "", "display name")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "chat cache directory")
	cmd.Flags().StringSliceVar(&stun, "stun", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	}, "STUN server URLs")
	return cmd
}

func readStdin(ctx context.Context, agent *client.Agent) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := agent.SendChat(text); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}

// printingAgent layers terminal output on top of the standard agent.
type printingAgent struct {
	*client.Agent

	connected chan struct{}
}

func (a *printingAgent) waitConnected(ctx context.Context) {
	select {
	case <-a.connected:
	case <-ctx.Done():
	}
}

func (a *printingAgent) OnConnected(peerID string) {
	a.Agent.OnConnected(peerID)
	select {
	case a.connected <- struct{}{}:
	default:
	}
}

func (a *printingAgent) OnUserJoined(u protocol.Participant) {
	a.Agent.OnUserJoined(u)
	fmt.Printf("* %s joined\n", u.UserName)
}

func (a *printingAgent) OnUserLeft(u protocol.Participant) {
	a.Agent.OnUserLeft(u)
	fmt.Printf("* %s left\n", u.UserName)
}

func (a *printingAgent) OnChatMessage(msg protocol.ChatMessage) {
	a.Agent.OnChatMessage(msg)
	printMessage(msg)
}

func (a *printingAgent) OnChatFile(msg protocol.ChatMessage) {
	a.Agent.OnChatFile(msg)
	fmt.Printf("<%s> sent file %s (%d bytes)\n", msg.UserName, msg.FileName, msg.FileSize)
}

func (a *printingAgent) OnServerError(message string) {
	a.Agent.OnServerError(message)
	fmt.Fprintf(os.Stderr, "server error: %s\n", message)
}

func printMessage(msg protocol.ChatMessage) {
	if msg.IsFile() {
		fmt.Printf("<%s> [file] %s\n", msg.UserName, msg.FileName)
		return
	}
	fmt.Printf("<%s> %s\n", msg.UserName, msg.Text)
}
