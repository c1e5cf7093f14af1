package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/credstore"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to the active profile's Entra ID application",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the configured Entra ID flow once and report the outcome",
	RunE:  runAuthLogin,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active profile's configured authentication method",
	RunE:  runAuthStatus,
}

func init() {
	authCmd.AddCommand(authLoginCmd, authStatusCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := credstore.New(logger, loadEncryptedCredentials(cfg))

	b := bus.New(8)
	go drainAuthEvents(b)

	flow, _, err := buildFlow(cfg, store, b, logger)
	if err != nil {
		return err
	}

	tok, err := flow.Acquire(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("signed in, token valid until %s\n", tok.NotAfter.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func drainAuthEvents(b *bus.Bus) {
	for evt := range b.Events() {
		switch p := evt.Payload.(type) {
		case bus.AuthDeviceCodePending:
			fmt.Printf("\nTo sign in, visit %s and enter code %s\n", p.VerificationURI, p.UserCode)
			fmt.Printf("(code expires in %ds)\n\n", p.ExpiresIn)
		case bus.AuthSucceeded:
			fmt.Println("authentication succeeded")
		case bus.AuthFailed:
			fmt.Printf("authentication failed: %s\n", p.Reason)
		}
	}
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("auth.method: %s\n", cfg.Auth.Method)
	if cfg.Auth.Method != "connection_string" {
		fmt.Printf("azure_ad.auth_method: %s\n", cfg.AzureAD.AuthMethod)
		fmt.Printf("azure_ad.tenant_id: %s\n", cfg.AzureAD.TenantID)
	}
	return nil
}
