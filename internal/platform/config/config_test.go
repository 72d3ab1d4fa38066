package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_PORTAL_ALLOWED_DOMAINS": "globex.com",
		"API_MASTER_CSV_PATH":        "testdata/master.csv",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Portal.CodeValidity != 5*time.Minute {
		t.Errorf("unexpected default code validity: %s", cfg.Portal.CodeValidity)
	}
	if cfg.Portal.ResendCooldown != 30*time.Second {
		t.Errorf("unexpected default resend cooldown: %s", cfg.Portal.ResendCooldown)
	}
	if cfg.Portal.MaxCodeAttempts != 3 {
		t.Errorf("unexpected default max attempts: %d", cfg.Portal.MaxCodeAttempts)
	}
	if cfg.Portal.SessionTTL != 30*time.Minute {
		t.Errorf("unexpected default session ttl: %s", cfg.Portal.SessionTTL)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("unexpected default smtp port: %d", cfg.SMTP.Port)
	}
	if cfg.Sheets.SheetName != "Sheet1" {
		t.Errorf("unexpected default sheet name: %s", cfg.Sheets.SheetName)
	}
	if cfg.Fallback.Path != defaultFallbackPath {
		t.Errorf("unexpected default fallback path: %s", cfg.Fallback.Path)
	}
	if cfg.Auth.TokenTTL != defaultTokenTTL {
		t.Errorf("unexpected default token ttl: %s", cfg.Auth.TokenTTL)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.RateLimits.CodePerMinute != 10 {
		t.Errorf("unexpected default code rate limit: %d", cfg.RateLimits.CodePerMinute)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":              "9090",
		"API_SERVER_IDLE_TIMEOUT":      "2m",
		"API_PORTAL_ALLOWED_DOMAINS":   "globex.com, initech.io",
		"API_PORTAL_CODE_VALIDITY":     "10m",
		"API_PORTAL_RESEND_COOLDOWN":   "1m",
		"API_PORTAL_MAX_CODE_ATTEMPTS": "5",
		"API_PORTAL_SESSION_TTL":       "1h",
		"API_MASTER_CSV_PATH":          "/data/master.csv",
		"API_MASTER_DATE_COLUMNS":      "date_of_birth, hire_date",
		"API_MASTER_TEXT_COLUMNS":      "address",
		"API_SMTP_HOST":                "smtp.globex.com",
		"API_SMTP_PORT":                "465",
		"API_SMTP_USERNAME":            "portal@globex.com",
		"API_SMTP_PASSWORD":            "secret://smtp/password",
		"API_SMTP_FROM":                "portal@globex.com",
		"API_SHEETS_SPREADSHEET_ID":    "sheet-123",
		"API_SHEETS_SHEET_NAME":        "Log",
		"API_SHEETS_CREDENTIALS_JSON":  "secret://sheets/creds",
		"API_FALLBACK_CSV_PATH":        "/data/fallback.csv",
		"API_FIRESTORE_PROJECT_ID":     "vf-prod",
		"API_PUBSUB_TOPIC_ID":          "submissions",
		"API_AUTH_SIGNING_SECRET":      "secret://auth/signing",
		"API_AUTH_TOKEN_TTL":           "20m",
		"API_RATELIMIT_CODE_PER_MIN":   "4",
	}

	secrets := map[string]string{
		"secret://smtp/password": "smtp-pass",
		"secret://sheets/creds":  `{"type":"service_account"}`,
		"secret://auth/signing":  "signing-key",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if len(cfg.Portal.AllowedEmailDomains) != 2 {
		t.Fatalf("expected 2 allowed domains, got %v", cfg.Portal.AllowedEmailDomains)
	}
	if cfg.Portal.CodeValidity != 10*time.Minute {
		t.Errorf("unexpected code validity: %s", cfg.Portal.CodeValidity)
	}
	if cfg.Portal.MaxCodeAttempts != 5 {
		t.Errorf("unexpected max attempts: %d", cfg.Portal.MaxCodeAttempts)
	}
	if len(cfg.Master.DateColumns) != 2 || cfg.Master.DateColumns[0] != "date_of_birth" {
		t.Errorf("unexpected date columns: %v", cfg.Master.DateColumns)
	}
	if cfg.SMTP.Password != "smtp-pass" {
		t.Errorf("expected resolved smtp password, got %s", cfg.SMTP.Password)
	}
	if cfg.SMTP.Port != 465 {
		t.Errorf("unexpected smtp port: %d", cfg.SMTP.Port)
	}
	if cfg.Sheets.CredentialsJSON != `{"type":"service_account"}` {
		t.Errorf("expected resolved sheets credentials, got %s", cfg.Sheets.CredentialsJSON)
	}
	if cfg.Sheets.SheetName != "Log" {
		t.Errorf("unexpected sheet name: %s", cfg.Sheets.SheetName)
	}
	if cfg.Auth.SigningSecret != "signing-key" {
		t.Errorf("expected resolved signing secret, got %s", cfg.Auth.SigningSecret)
	}
	if cfg.Auth.TokenTTL != 20*time.Minute {
		t.Errorf("unexpected token ttl: %s", cfg.Auth.TokenTTL)
	}
	if cfg.Pubsub.ProjectID != "vf-prod" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.Pubsub.ProjectID)
	}
	if cfg.RateLimits.CodePerMinute != 4 {
		t.Errorf("unexpected code rate limit: %d", cfg.RateLimits.CodePerMinute)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_PORTAL_ALLOWED_DOMAINS=globex.com\nAPI_MASTER_CSV_PATH=/data/master.csv\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Master.Path != "/data/master.csv" {
		t.Errorf("expected master path from dotenv, got %s", cfg.Master.Path)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_SMTP_PASSWORD"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref: %s", secretErr.Ref)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := baseEnv()
	env["API_AUTH_SIGNING_SECRET"] = ""

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Auth.SigningSecret"))
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "Auth.SigningSecret" {
		t.Errorf("unexpected missing secret names: %v", names)
	}
}
