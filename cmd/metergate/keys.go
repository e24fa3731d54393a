package main

import (
	"context"
	"fmt"
	"time"

	"github.com/apimarket/metergate/domain/credential"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Rotate or revoke caller API keys.

Each profile holds exactly one key. Rotation revokes the old key and
issues a new one in a single step; the raw key is shown once.

Examples:
  metergate keys rotate <profile-id>
  metergate keys revoke <profile-id>`,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <profile-id>",
	Short: "Revoke the current key and issue a new one",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRotate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <profile-id>",
	Short: "Revoke a caller's key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysRotateCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	ctx := context.Background()
	profileID := args[0]
	now := time.Now().UTC()

	if _, err := s.profiles.Get(ctx, profileID); err != nil {
		return fmt.Errorf("profile %s: %w", profileID, err)
	}

	rawKey, cred, err := credential.Generate(s.marker, now)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := s.profiles.RevokeKey(ctx, profileID, now); err != nil {
		return fmt.Errorf("revoke old key: %w", err)
	}
	if err := s.profiles.SetKey(ctx, profileID, cred); err != nil {
		return fmt.Errorf("store new key: %w", err)
	}

	fmt.Printf("Key rotated for %s. The old key stops working immediately.\n\n", profileID)
	fmt.Printf("New API key (shown once, store it now):\n  %s\n", rawKey)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.profiles.RevokeKey(context.Background(), args[0], time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	fmt.Printf("Key revoked for %s.\n", args[0])
	return nil
}
