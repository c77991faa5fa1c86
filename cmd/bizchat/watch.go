package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	bizchat "github.com/aakarsh-roy/BizFlow360/sdk/golang"
	"github.com/spf13/cobra"
)

var watchVerbose bool

func init() {
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Log connection events to stderr")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Follow a room live and send messages from stdin",
	Long: "Join a room and stream its messages to the terminal. Lines typed on\n" +
		"stdin are sent to the room. When the live channel cannot be established\n" +
		"the session degrades to request/response mode and sends still work.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		client := getClient()
		identity := getIdentity()

		var opts []bizchat.SessionOption
		if watchVerbose {
			opts = append(opts, bizchat.WithLogger(log.New(os.Stderr, "bizchat: ", log.LstdFlags)))
		}
		session := bizchat.NewSession(client, identity, opts...)
		defer session.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Print each message once, in the order snapshots surface them.
		var mu sync.Mutex
		seen := make(map[string]bool)
		var typingLine string
		session.OnChange(func(snap bizchat.Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			for _, msg := range snap.Messages {
				if seen[msg.ID] {
					continue
				}
				seen[msg.ID] = true
				printMessage(msg)
			}
			line := formatTyping(snap.TypingUsers)
			if line != typingLine {
				typingLine = line
				if line != "" {
					fmt.Println(line)
				}
			}
		})
		session.OnMention(func(p bizchat.MentionPayload) {
			fmt.Printf("* You were mentioned in room %s\n", p.RoomID)
		})

		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		snap := session.Snapshot()
		if snap.Connected {
			fmt.Println("Connected. Type a message and press enter; Ctrl-D to quit.")
		} else {
			fmt.Println("Live channel unavailable; running in request/response mode.")
		}

		session.JoinRoom(ctx, roomID)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nLeaving room.")
				leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				session.LeaveRoom(leaveCtx)
				cancel()
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				session.SendMessage(ctx, line, nil)
			}
		}
	},
}

func formatTyping(typing []bizchat.TypingIndicator) string {
	if len(typing) == 0 {
		return ""
	}
	names := make([]string, 0, len(typing))
	for _, t := range typing {
		name := t.UserName
		if name == "" {
			name = t.UserID
		}
		names = append(names, name)
	}
	return "... " + strings.Join(names, ", ") + " typing"
}
