// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Outside local, resolve *_SSM_PARAM references through the SecretProvider
//     and inject the resolved values back into the environment.
//  4. Populate the Config struct with envconfig.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate struct tags with go-playground/validator, then the cross-field
//     rules (channel credentials, cron secret hash, threshold ordering).
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks a variable whose value is a secret reference. For
// example DATABASE_URL_SSM_PARAM names the key that resolves DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses secret resolution.
const localEnv = "local"

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv  func(key string) (string, bool)
	setEnv     func(key, value string) error
	environ    func() []string
	dotenvPath []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration. provider may be nil in
// local mode or when no *_SSM_PARAM variables are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does not override variables already present in the environment.
	_ = godotenv.Load(deps.dotenvPath...)

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateCrossField(&cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// validateCrossField checks the rules that span several fields.
func validateCrossField(cfg *Config) error {
	if h := cfg.Monitoring.CronSecretHash; h.IsSet() {
		if _, err := bcrypt.Cost([]byte(h.Unmask())); err != nil {
			return fmt.Errorf("CRON_SECRET_HASH is not a bcrypt hash: %w", err)
		}
	}

	for _, ch := range cfg.Alerts.Channels {
		switch ch {
		case "webhook":
			if cfg.Alerts.WebhookURL == "" {
				return fmt.Errorf("ALERT_WEBHOOK_URL is required when the webhook channel is enabled")
			}
		case "whatsapp":
			if cfg.Alerts.WhatsAppPhoneNumberID == "" || !cfg.Alerts.WhatsAppToken.IsSet() {
				return fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID and WHATSAPP_TOKEN are required when the whatsapp channel is enabled")
			}
			if len(cfg.Alerts.WhatsAppStaffNumbers) == 0 {
				return fmt.Errorf("WHATSAPP_STAFF_NUMBERS must list at least one number")
			}
		case "sqs":
			if cfg.AWS.AlertQueueURL == "" {
				return fmt.Errorf("SQS_ALERTS is required when the sqs channel is enabled")
			}
		}
	}

	if _, err := cfg.Monitoring.Thresholds(); err != nil {
		return fmt.Errorf("monitoring thresholds: %w", err)
	}
	return nil
}

// resolveSSMParams scans the environment for *_SSM_PARAM variables, resolves
// their references in one batch and sets the target variables. A target that
// is already set wins over its reference.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	refToTarget := make(map[string]string)
	var refs, targets []string

	for _, entry := range deps.environ() {
		key, ref, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || ref == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		refToTarget[ref] = target
		refs = append(refs, ref)
		targets = append(targets, target)
	}

	if len(refs) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d secret references", len(refs)),
			Err:     err,
		}
	}

	var missing []string
	for _, ref := range refs {
		value, ok := resolved[ref]
		if !ok {
			missing = append(missing, refToTarget[ref])
			continue
		}
		if err := deps.setEnv(refToTarget[ref], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", refToTarget[ref]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("secret references not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
