package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/dawidpereira/quetty/internal/errs"
)

// AppDirName is the directory quetty's profile home lives under inside
// the user's configuration root (spec §6.3).
const AppDirName = "quetty"

// legacyPathEnvVar is the bypass spec §4.9 describes: pointing straight
// at a TOML file instead of resolving a named profile.
const legacyPathEnvVar = "QUETTY_CONFIG_PATH"

// AuthConfig selects the Identity Provider flow (spec §6.2).
type AuthConfig struct {
	Method string `toml:"method"`
}

// AzureADConfig carries Entra ID flow parameters (spec §6.4).
type AzureADConfig struct {
	AuthMethod            string `toml:"auth_method"`
	TenantID              string `toml:"tenant_id"`
	ClientID              string `toml:"client_id"`
	ClientSecret          string `toml:"client_secret"`
	EncryptedClientSecret string `toml:"encrypted_client_secret"`
	EncryptionSalt        string `toml:"encryption_salt"`
	SubscriptionID        string `toml:"subscription_id"`
	ResourceGroup         string `toml:"resource_group"`
	Namespace             string `toml:"namespace"`
	AuthorityHost         string `toml:"authority_host"`
	Scope                 string `toml:"scope"`
}

// ServiceBusConfig carries the connection-string auth path (spec §6.4).
type ServiceBusConfig struct {
	ConnectionString          string `toml:"connection_string"`
	EncryptedConnectionString string `toml:"encrypted_connection_string"`
	EncryptionSalt            string `toml:"encryption_salt"`
}

// Config is quetty's full resolved configuration surface (spec §6.2).
type Config struct {
	PageSize                  int `toml:"page_size"`
	PollTimeoutMS             int `toml:"poll_timeout_ms"`
	MaxBatchSize              int `toml:"max_batch_size"`
	MaxMessagesToProcess      int `toml:"max_messages_to_process"`
	OperationTimeoutSecs      int `toml:"operation_timeout_secs"`
	DLQMaxAttempts            int `toml:"dlq_max_attempts"`
	DLQReceiveTimeoutSecs     int `toml:"dlq_receive_timeout_secs"`
	DLQSendTimeoutSecs        int `toml:"dlq_send_timeout_secs"`
	DLQRetryDelayMS           int `toml:"dlq_retry_delay_ms"`
	QueueStatsCacheTTLSeconds int `toml:"queue_stats_cache_ttl_seconds"`

	Auth       AuthConfig       `toml:"auth"`
	AzureAD    AzureADConfig    `toml:"azure_ad"`
	ServiceBus ServiceBusConfig `toml:"service_bus"`
}

// Defaults returns the embedded baseline configuration, the lowest
// precedence layer in spec §4.9's resolution order.
func Defaults() Config {
	return Config{
		PageSize:                  50,
		PollTimeoutMS:             5000,
		MaxBatchSize:              100,
		MaxMessagesToProcess:      1000,
		OperationTimeoutSecs:      300,
		DLQMaxAttempts:            5,
		DLQReceiveTimeoutSecs:     10,
		DLQSendTimeoutSecs:        10,
		DLQRetryDelayMS:           500,
		QueueStatsCacheTTLSeconds: 30,
		Auth:                      AuthConfig{Method: "connection_string"},
	}
}

// clampBounds enforces spec §6.2's documented ranges on the fully
// resolved Config, after every layer (defaults, TOML files, env
// overlay) has had a chance to set a value. A value outside its range
// is clamped rather than rejected, so a slightly-too-generous override
// degrades to the nearest safe value instead of failing Load outright.
func clampBounds(cfg *Config) {
	cfg.PageSize = clampInt(cfg.PageSize, 1, 1000)
	cfg.MaxBatchSize = clampInt(cfg.MaxBatchSize, 1, 1000)
	cfg.MaxMessagesToProcess = clampInt(cfg.MaxMessagesToProcess, 1, 100_000)
	cfg.DLQMaxAttempts = clampInt(cfg.DLQMaxAttempts, 1, 100)
	cfg.PollTimeoutMS = clampInt(cfg.PollTimeoutMS, 100, 60_000)
	cfg.OperationTimeoutSecs = clampInt(cfg.OperationTimeoutSecs, 1, 3600)
	cfg.DLQReceiveTimeoutSecs = clampInt(cfg.DLQReceiveTimeoutSecs, 1, 60)
	cfg.DLQSendTimeoutSecs = clampInt(cfg.DLQSendTimeoutSecs, 1, 60)
	cfg.DLQRetryDelayMS = clampInt(cfg.DLQRetryDelayMS, 0, 60_000)
	cfg.QueueStatsCacheTTLSeconds = clampInt(cfg.QueueStatsCacheTTLSeconds, 0, 3600)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ProfileHome returns the profile's home directory under the user's
// configuration root: <user config root>/quetty/profiles/<name>/ (spec
// §6.3). name must already be validated with ValidateProfileName.
func ProfileHome(name string) (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", errs.New("config", "load", errs.KindIO, err)
	}
	return filepath.Join(root, AppDirName, "profiles", name), nil
}

// Load resolves a Config for the given profile name, applying (highest
// precedence first) cliOverridePath, the profile's config.toml, and the
// embedded defaults, then overlaying SECTION__KEY environment variables
// (spec §4.9). If QUETTY_CONFIG_PATH is set, it replaces the profile
// system entirely as the TOML source, but the environment overlay still
// applies on top.
func Load(profileName, cliOverridePath string) (Config, error) {
	cfg := Defaults()

	if legacy, ok := os.LookupEnv(legacyPathEnvVar); ok {
		if err := mergeTOMLFile(&cfg, legacy); err != nil {
			return Config{}, err
		}
		applyEnvOverlay(&cfg, os.Environ())
		clampBounds(&cfg)
		return cfg, nil
	}

	if err := ValidateProfileName(profileName); err != nil {
		return Config{}, err
	}

	home, err := ProfileHome(profileName)
	if err != nil {
		return Config{}, err
	}

	if err := loadEnvFile(filepath.Join(home, ".env")); err != nil {
		return Config{}, err
	}

	if err := mergeTOMLFile(&cfg, filepath.Join(home, "config.toml")); err != nil {
		return Config{}, err
	}

	if cliOverridePath != "" {
		if err := mergeTOMLFile(&cfg, cliOverridePath); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverlay(&cfg, os.Environ())
	clampBounds(&cfg)
	return cfg, nil
}

// mergeTOMLFile decodes path over cfg in place. A missing file is not
// an error: config.toml and the CLI override path are both optional
// (spec §6.3).
func mergeTOMLFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return errs.New("config", "load", errs.KindConfig, err).WithSubject(path)
	}
	return nil
}

// loadEnvFile loads path into the process environment via godotenv,
// without overwriting variables already set (so an operator's real
// shell environment always wins over a profile's .env). A missing file
// is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return errs.New("config", "load", errs.KindConfig, err).WithSubject(path)
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
	return nil
}

// applyEnvOverlay scans environ for SECTION__KEY-shaped variables and
// writes matching fields into cfg (spec §4.9, §6.4). Unknown
// section/key pairs are ignored rather than rejected, since quetty does
// not require every arbitrary override to name a known field.
func applyEnvOverlay(cfg *Config, environ []string) {
	for _, kv := range environ {
		section, key, value, ok := splitSectionKey(kv)
		if !ok {
			continue
		}
		applyOverride(cfg, section, key, value)
	}
}

func splitSectionKey(kv string) (section, key, value string, ok bool) {
	eq := strings.IndexByte(kv, '=')
	if eq < 0 {
		return "", "", "", false
	}
	name, value := kv[:eq], kv[eq+1:]
	sep := strings.Index(name, "__")
	if sep < 0 {
		return "", "", "", false
	}
	return strings.ToLower(name[:sep]), strings.ToLower(name[sep+2:]), value, true
}

func applyOverride(cfg *Config, section, key, value string) {
	switch section {
	case "core":
		applyCoreOverride(cfg, key, value)
	case "auth":
		if key == "method" {
			cfg.Auth.Method = value
		}
	case "azure_ad":
		applyAzureADOverride(&cfg.AzureAD, key, value)
	case "servicebus":
		applyServiceBusOverride(&cfg.ServiceBus, key, value)
	}
}

func applyCoreOverride(cfg *Config, key, value string) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	switch key {
	case "page_size":
		cfg.PageSize = n
	case "poll_timeout_ms":
		cfg.PollTimeoutMS = n
	case "max_batch_size":
		cfg.MaxBatchSize = n
	case "max_messages_to_process":
		cfg.MaxMessagesToProcess = n
	case "operation_timeout_secs":
		cfg.OperationTimeoutSecs = n
	case "dlq_max_attempts":
		cfg.DLQMaxAttempts = n
	case "dlq_receive_timeout_secs":
		cfg.DLQReceiveTimeoutSecs = n
	case "dlq_send_timeout_secs":
		cfg.DLQSendTimeoutSecs = n
	case "dlq_retry_delay_ms":
		cfg.DLQRetryDelayMS = n
	case "queue_stats_cache_ttl_seconds":
		cfg.QueueStatsCacheTTLSeconds = n
	}
}

func applyAzureADOverride(cfg *AzureADConfig, key, value string) {
	switch key {
	case "auth_method":
		cfg.AuthMethod = value
	case "tenant_id":
		cfg.TenantID = value
	case "client_id":
		cfg.ClientID = value
	case "client_secret":
		cfg.ClientSecret = value
	case "encrypted_client_secret":
		cfg.EncryptedClientSecret = value
	case "encryption_salt":
		cfg.EncryptionSalt = value
	case "subscription_id":
		cfg.SubscriptionID = value
	case "resource_group":
		cfg.ResourceGroup = value
	case "namespace":
		cfg.Namespace = value
	case "authority_host":
		cfg.AuthorityHost = value
	case "scope":
		cfg.Scope = value
	}
}

func applyServiceBusOverride(cfg *ServiceBusConfig, key, value string) {
	switch key {
	case "connection_string":
		cfg.ConnectionString = value
	case "encrypted_connection_string":
		cfg.EncryptedConnectionString = value
	case "encryption_salt":
		cfg.EncryptionSalt = value
	}
}
