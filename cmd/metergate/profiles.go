package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/apimarket/metergate/domain/credential"
	"github.com/apimarket/metergate/ports"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage caller accounts",
	Long: `Manage marketplace caller accounts.

Examples:
  metergate profiles create --email=dev@example.com --name="Dev Co" --credits=500
  metergate profiles topup <profile-id> --credits=100
  metergate profiles list`,
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a caller and issue an API key",
	RunE:  runProfilesCreate,
}

var profilesTopupCmd = &cobra.Command{
	Use:   "topup <profile-id>",
	Short: "Add credits to a caller's balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesTopup,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List caller accounts",
	RunE:  runProfilesList,
}

var (
	profileEmail   string
	profileName    string
	profileCredits int64
)

func init() {
	rootCmd.AddCommand(profilesCmd)

	profilesCmd.AddCommand(profilesCreateCmd)
	profilesCmd.AddCommand(profilesTopupCmd)
	profilesCmd.AddCommand(profilesListCmd)

	profilesCreateCmd.Flags().StringVar(&profileEmail, "email", "", "caller email (required)")
	profilesCreateCmd.Flags().StringVar(&profileName, "name", "", "display name")
	profilesCreateCmd.Flags().Int64Var(&profileCredits, "credits", 0, "initial credit balance")
	profilesCreateCmd.MarkFlagRequired("email")

	profilesTopupCmd.Flags().Int64Var(&profileCredits, "credits", 0, "credits to add (required)")
	profilesTopupCmd.MarkFlagRequired("credits")
}

func runProfilesCreate(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	now := time.Now().UTC()
	rawKey, cred, err := credential.Generate(s.marker, now)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	p := ports.Profile{
		ID:        uuid.New().String(),
		Email:     profileEmail,
		Name:      profileName,
		Key:       cred,
		Credits:   profileCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.profiles.Create(context.Background(), p); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}

	fmt.Printf("Profile created: %s\n\n", p.ID)
	fmt.Printf("API key (shown once, store it now):\n  %s\n", rawKey)
	return nil
}

func runProfilesTopup(cmd *cobra.Command, args []string) error {
	if profileCredits <= 0 {
		return fmt.Errorf("credits must be positive")
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	balance, err := s.profiles.AddCredits(context.Background(), args[0], profileCredits)
	if err != nil {
		return fmt.Errorf("top up: %w", err)
	}
	fmt.Printf("New balance for %s: %d credits\n", args[0], balance)
	return nil
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.close()

	profiles, err := s.profiles.List(context.Background(), 100, 0)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles found.")
		fmt.Println()
		fmt.Println("Create one with: metergate profiles create --email=<email>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tCREDITS\tKEY PREFIX\tKEY STATUS")
	fmt.Fprintln(w, "--\t-----\t----\t-------\t----------\t----------")
	now := time.Now()
	for _, p := range profiles {
		status := "active"
		if !p.Key.Active(now) {
			status = "revoked"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.Email, p.Name, p.Credits, p.Key.Prefix, status)
	}
	return w.Flush()
}
