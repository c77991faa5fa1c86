package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bizchat "github.com/aakarsh-roy/BizFlow360/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// history
	historyPages int
	historyLimit int
	historyJSON  bool

	// send
	sendReplyTo  string
	sendMentions string
	sendJSON     bool

	// search
	searchRoom  string
	searchLimit int
	searchJSON  bool
)

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history <room-id>",
	Short: "Print a room's recent messages",
	Long:  "Fetch one or more pages of a room's history and print them oldest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pages := historyPages
		if pages < 1 {
			pages = 1
		}

		// Pages arrive newest first; collect then print oldest first, the way
		// the room reads.
		var all []bizchat.Message
		for page := 1; page <= pages; page++ {
			data, err := client.GetMessages(ctx, roomID, page, historyLimit)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			var older []bizchat.Message
			for i := len(data.Messages) - 1; i >= 0; i-- {
				msg, err := bizchat.NormalizeMessage(data.Messages[i])
				if err != nil {
					continue
				}
				older = append(older, *msg)
			}
			all = append(older, all...)
			if !data.HasMore {
				break
			}
		}

		if historyJSON {
			b, _ := json.MarshalIndent(all, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(all) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range all {
			printMessage(msg)
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <message>",
	Short: "Send a message to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, content := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *bizchat.SendOptions
		if sendReplyTo != "" || sendMentions != "" {
			opts = &bizchat.SendOptions{ReplyTo: sendReplyTo}
			if sendMentions != "" {
				mentions := strings.Split(sendMentions, ",")
				trimmed := make([]string, 0, len(mentions))
				for _, m := range mentions {
					m = strings.TrimSpace(m)
					if m != "" {
						trimmed = append(trimmed, m)
					}
				}
				opts.Mentions = trimmed
			}
		}

		msg, err := client.PostMessage(ctx, roomID, content, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if sendJSON {
			b, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Message sent to room %s\n", roomID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, err := client.SearchMessages(ctx, query, searchRoom, searchLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if searchJSON {
			b, _ := json.MarshalIndent(messages, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			printMessage(msg)
		}
		return nil
	},
}

// ============================================================================
// Helper
// ============================================================================

func printMessage(msg bizchat.Message) {
	name := msg.Sender.Name
	if name == "" {
		name = msg.Sender.ID
	}
	edited := ""
	if msg.IsEdited {
		edited = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", msg.CreatedAt, name, msg.Content, edited)
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "Number of pages to fetch")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Messages per page")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")

	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Message ID being replied to")
	sendCmd.Flags().StringVar(&sendMentions, "mentions", "", "Comma-separated list of mentioned user IDs")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	searchCmd.Flags().StringVar(&searchRoom, "room", "", "Restrict search to one room")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(searchCmd)
}
