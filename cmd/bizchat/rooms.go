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
	roomsListJSON bool

	// rooms create
	roomsCreateType         string
	roomsCreateDescription  string
	roomsCreateParticipants string
	roomsCreateJSON         bool
)

// ============================================================================
// rooms (parent command)
// ============================================================================

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Manage chat rooms",
	Long:  "List, create, and mark chat rooms as read.",
}

// ============================================================================
// rooms list
// ============================================================================

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rooms with unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		rooms, err := client.ListRooms(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if roomsListJSON {
			b, _ := json.MarshalIndent(rooms, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}

		for _, r := range rooms {
			unread := ""
			if r.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", r.UnreadCount)
			}
			last := ""
			if r.LastMessage != nil {
				last = " - " + truncate(r.LastMessage.Content, 50)
			}
			fmt.Printf("  %s: %s [%s]%s%s\n", r.ID, r.Name, r.Type, unread, last)
		}
		return nil
	},
}

// ============================================================================
// rooms create
// ============================================================================

var roomsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		opts := &bizchat.CreateRoomOptions{
			Name:        name,
			Description: roomsCreateDescription,
		}
		if roomsCreateType != "" {
			opts.Type = bizchat.RoomType(roomsCreateType)
		}
		if roomsCreateParticipants != "" {
			participants := strings.Split(roomsCreateParticipants, ",")
			trimmed := make([]string, 0, len(participants))
			for _, p := range participants {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			opts.Participants = trimmed
		}

		room, err := client.CreateRoom(ctx, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if roomsCreateJSON {
			b, _ := json.MarshalIndent(room, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Room created: %s\n", room.ID)
		fmt.Printf("  Name: %s\n", room.Name)
		fmt.Printf("  Type: %s\n", room.Type)
		return nil
	},
}

// ============================================================================
// rooms read
// ============================================================================

var roomsReadCmd = &cobra.Command{
	Use:   "read <room-id>",
	Short: "Mark a room as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.MarkRoomRead(ctx, roomID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Room %s marked as read.\n", roomID)
		return nil
	},
}

// ============================================================================
// Helper
// ============================================================================

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	roomsListCmd.Flags().BoolVar(&roomsListJSON, "json", false, "Output raw JSON")

	roomsCreateCmd.Flags().StringVar(&roomsCreateType, "type", "", "Room type: general, department, project, private, announcement")
	roomsCreateCmd.Flags().StringVar(&roomsCreateDescription, "description", "", "Room description")
	roomsCreateCmd.Flags().StringVar(&roomsCreateParticipants, "participants", "", "Comma-separated list of user IDs")
	roomsCreateCmd.Flags().BoolVar(&roomsCreateJSON, "json", false, "Output raw JSON")

	roomsCmd.AddCommand(roomsListCmd)
	roomsCmd.AddCommand(roomsCreateCmd)
	roomsCmd.AddCommand(roomsReadCmd)

	rootCmd.AddCommand(roomsCmd)
}
