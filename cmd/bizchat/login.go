package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginUserID   string
	loginUserName string
)

func init() {
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "User ID matching the token")
	loginCmd.Flags().StringVar(&loginUserName, "user-name", "", "Display name shown in rooms")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store a chat token in ~/.bizchat/config.toml",
	Long:  "Store the bearer token issued by BizFlow360 sign-in. The token is opaque to this tool; obtain it from the dashboard or the auth API.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		if loginUserID != "" {
			cfg.Auth.UserID = loginUserID
		}
		if loginUserName != "" {
			cfg.Auth.UserName = loginUserName
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		if cfg.Auth.UserID == "" {
			fmt.Println("Note: live mode needs a user id; set it with --user-id or 'bizchat config set auth.user_id <id>'.")
		}
		return nil
	},
}
