package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferrydock/ferry/pkg/config"
	"github.com/ferrydock/ferry/pkg/credentials"
	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

func init() {
	adminCmd.AddCommand(createOrgCmd)
	adminCmd.AddCommand(issueKeyCmd)
	issueKeyCmd.Flags().String("org", "", "organization id")
	issueKeyCmd.Flags().String("name", "default", "key name")
	issueKeyCmd.Flags().Duration("ttl", 0, "key lifetime, 0 for no expiry")
	rootCmd.AddCommand(adminCmd)
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Bootstrap organizations and credentials",
}

func adminStore(cmd *cobra.Command) (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for admin commands")
	}
	return storage.NewPostgresStore(cmd.Context(), cfg.DatabaseURL)
}

var createOrgCmd = &cobra.Command{
	Use:   "create-org [name]",
	Short: "Create an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := adminStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		org := &types.Organization{
			ID:        types.NewID("org"),
			Name:      args[0],
			CreatedAt: time.Now(),
		}
		if err := store.CreateOrganization(cmd.Context(), org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
		fmt.Printf("✓ Organization created\n  ID: %s\n  Name: %s\n", org.ID, org.Name)
		return nil
	},
}

var issueKeyCmd = &cobra.Command{
	Use:   "issue-key",
	Short: "Issue an API key for an organization",
	Long: `Issue an API key for an organization. The plaintext key is printed
exactly once and cannot be recovered afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, _ := cmd.Flags().GetString("org")
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if orgID == "" {
			return fmt.Errorf("--org is required")
		}

		store, err := adminStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := store.GetOrganization(cmd.Context(), orgID); err != nil {
			return fmt.Errorf("organization %s: %w", orgID, err)
		}

		var expires *time.Time
		if ttl > 0 {
			at := time.Now().Add(ttl)
			expires = &at
		}
		key, plaintext, err := credentials.NewManager(store).IssueAPIKey(cmd.Context(), orgID, name, expires)
		if err != nil {
			return err
		}
		fmt.Printf("✓ API key issued\n  ID: %s\n  Key: %s\n\nStore this key now, it will not be shown again.\n", key.ID, plaintext)
		return nil
	},
}
