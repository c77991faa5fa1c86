package main

import (
	"fmt"
	"os"

	bizchat "github.com/aakarsh-roy/BizFlow360/sdk/golang"
)

// getClient creates a chat client authenticated with the stored token.
func getClient() *bizchat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No chat token. Run 'bizchat login <token>' first.")
		os.Exit(1)
	}

	var opts []bizchat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, bizchat.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.PageSize > 0 {
		opts = append(opts, bizchat.WithPageSize(cfg.Default.PageSize))
	}

	return bizchat.NewClient(cfg.Auth.Token, opts...)
}

// getIdentity builds the session identity from the stored auth state.
func getIdentity() bizchat.Identity {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "No chat identity. Run 'bizchat login <token> --user-id <id>' first.")
		os.Exit(1)
	}
	return bizchat.Identity{
		User:  bizchat.Sender{ID: cfg.Auth.UserID, Name: cfg.Auth.UserName},
		Token: cfg.Auth.Token,
	}
}
