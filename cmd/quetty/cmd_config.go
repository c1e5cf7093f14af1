package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dawidpereira/quetty/internal/config"
	"github.com/dawidpereira/quetty/internal/credstore"
	"github.com/dawidpereira/quetty/internal/errs"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and unlock the active profile's configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the fully resolved configuration for the active profile",
	RunE:  runConfigShow,
}

var configUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Decrypt the profile's stored credentials for this session",
	RunE:  runConfigUnlock,
}

func init() {
	configCmd.AddCommand(configShowCmd, configUnlockCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Printf("profile:                    %s\n", profileName)
	fmt.Printf("auth.method:                %s\n", cfg.Auth.Method)
	fmt.Printf("azure_ad.auth_method:       %s\n", cfg.AzureAD.AuthMethod)
	fmt.Printf("azure_ad.namespace:         %s\n", cfg.AzureAD.Namespace)
	fmt.Printf("page_size:                  %d\n", cfg.PageSize)
	fmt.Printf("max_batch_size:             %d\n", cfg.MaxBatchSize)
	fmt.Printf("max_messages_to_process:    %d\n", cfg.MaxMessagesToProcess)
	fmt.Printf("operation_timeout_secs:     %d\n", cfg.OperationTimeoutSecs)
	fmt.Printf("dlq_max_attempts:           %d\n", cfg.DLQMaxAttempts)
	fmt.Printf("queue_stats_cache_ttl_secs: %d\n", cfg.QueueStatsCacheTTLSeconds)
	return nil
}

func runConfigUnlock(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	encrypted := loadEncryptedCredentials(cfg)
	if len(encrypted) == 0 {
		fmt.Println("no encrypted credentials configured for this profile")
		return nil
	}

	fmt.Print("master password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return errs.New("cmd_config", "unlock", errs.KindIO, err)
	}
	defer func() {
		for i := range password {
			password[i] = 0
		}
	}()

	store := credstore.New(logger, encrypted)
	for kind := range encrypted {
		if _, err := store.Unlock(kind, password); err != nil {
			return errs.New("cmd_config", "unlock", errs.KindAuth, err).WithSubject(string(kind))
		}
		fmt.Printf("unlocked: %s\n", kind)
	}
	return nil
}

// keysFile is keys.toml's on-disk shape: base64-encoded ciphertext and
// salt per credential kind (spec §4.1, §4.9).
type keysFile struct {
	ServiceBusConnectionString *encodedSecret `toml:"servicebus_connection_string"`
	AzureADClientSecret        *encodedSecret `toml:"azure_ad_client_secret"`
}

type encodedSecret struct {
	Ciphertext string `toml:"ciphertext"`
	Salt       string `toml:"salt"`
}

func (e encodedSecret) decode() (credstore.Encrypted, error) {
	ct, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return credstore.Encrypted{}, err
	}
	salt, err := base64.StdEncoding.DecodeString(e.Salt)
	if err != nil {
		return credstore.Encrypted{}, err
	}
	return credstore.Encrypted{Ciphertext: ct, Salt: salt}, nil
}

// loadEncryptedCredentials reads keys.toml from the active profile's
// home directory, if present, into the map Store expects. A missing or
// unparsable keys.toml yields an empty map rather than an error: not
// every auth method needs encrypted-at-rest credentials.
func loadEncryptedCredentials(cfg config.Config) map[credstore.Kind]credstore.Encrypted {
	out := make(map[credstore.Kind]credstore.Encrypted)

	home, err := config.ProfileHome(profileName)
	if err != nil {
		return out
	}
	path := filepath.Join(home, "keys.toml")
	if _, err := os.Stat(path); err != nil {
		return out
	}

	var kf keysFile
	if _, err := toml.DecodeFile(path, &kf); err != nil {
		if logger != nil {
			logger.Warn("keys.toml present but unreadable, ignoring", zap.Error(err))
		}
		return out
	}

	if kf.ServiceBusConnectionString != nil {
		if enc, err := kf.ServiceBusConnectionString.decode(); err == nil {
			out[credstore.KindServiceBusConnectionString] = enc
		}
	}
	if kf.AzureADClientSecret != nil {
		if enc, err := kf.AzureADClientSecret.decode(); err == nil {
			out[credstore.KindAzureADClientSecret] = enc
		}
	}
	return out
}
