package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dawidpereira/quetty/internal/config"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage named configuration profiles",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new profile's home directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileCreate,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured profiles",
	RunE:  runProfileList,
}

func init() {
	profileCmd.AddCommand(profileCreateCmd, profileListCmd)
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := config.ValidateProfileName(name); err != nil {
		return err
	}

	home, err := config.ProfileHome(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return err
	}

	envPath := filepath.Join(home, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Restrictive permissions: .env can carry plaintext secrets via
		// the SECTION__KEY overlay (spec §4.9, §6.4).
		if err := os.WriteFile(envPath, []byte("# profile-specific environment overlay\n"), 0o600); err != nil {
			return err
		}
	}

	fmt.Printf("created profile %q at %s\n", name, home)
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	root, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	profilesDir := filepath.Join(root, config.AppDirName, "profiles")

	entries, err := os.ReadDir(profilesDir)
	if os.IsNotExist(err) {
		fmt.Println("no profiles configured")
		return nil
	}
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
	return nil
}
