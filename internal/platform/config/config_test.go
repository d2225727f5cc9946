package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID":    "fleet-dev",
		"API_STORAGE_REPORTS_BUCKET": "fleet-reports-dev",
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
	if cfg.Firestore.ProjectID != "fleet-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Events.ProjectID != "fleet-dev" {
		t.Errorf("expected events project to default to firebase project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Reports.ImageMaxBytes != 5<<20 {
		t.Errorf("unexpected image ceiling: %d", cfg.Reports.ImageMaxBytes)
	}
	if cfg.Reports.ImagesPerRole != 5 {
		t.Errorf("unexpected per-role cap: %d", cfg.Reports.ImagesPerRole)
	}
	if cfg.Reports.ExportImagePause != 300*time.Millisecond {
		t.Errorf("unexpected export pacing: %s", cfg.Reports.ExportImagePause)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		t.Errorf("expected default issuer list")
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_REPORTS_IMAGE_MAX_BYTES"] = "1048576"
	env["API_REPORTS_IMAGES_PER_ROLE"] = "3"
	env["API_REPORTS_EXPORT_IMAGE_PAUSE"] = "50ms"
	env["API_EVENTS_TOPIC"] = "report-events"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port override ignored: %s", cfg.Server.Port)
	}
	if cfg.Reports.ImageMaxBytes != 1<<20 {
		t.Errorf("image ceiling override ignored: %d", cfg.Reports.ImageMaxBytes)
	}
	if cfg.Reports.ImagesPerRole != 3 {
		t.Errorf("per-role cap override ignored: %d", cfg.Reports.ImagesPerRole)
	}
	if cfg.Reports.ExportImagePause != 50*time.Millisecond {
		t.Errorf("pacing override ignored: %s", cfg.Reports.ExportImagePause)
	}
	if cfg.Events.Topic != "report-events" {
		t.Errorf("topic override ignored: %s", cfg.Events.Topic)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := map[string]bool{"Firebase.ProjectID": false, "Storage.ReportsBucket": false}
	for _, field := range validation.Fields() {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in validation fields %v", field, validation.Fields())
		}
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["API_SECURITY_HMAC_SECRET"] = "secret://internal-hmac"

	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		if ref != "secret://internal-hmac" {
			t.Fatalf("unexpected ref %q", ref)
		}
		return "resolved-value", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Security.HMAC.Secret != "resolved-value" {
		t.Fatalf("secret not resolved: %q", cfg.Security.HMAC.Secret)
	}
}

func TestLoadRequiredSecretMissing(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Security.HMAC.Secret"),
	)

	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	names := missing.Names()
	if len(names) != 1 || names[0] != "Security.HMAC.Secret" {
		t.Fatalf("unexpected missing secrets: %v", names)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := baseEnv()
	env["API_SECURITY_HMAC_SECRET"] = "sm://broken"

	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", errors.New("boom")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://broken" {
		t.Fatalf("sm:// reference not normalised: %q", secretErr.Ref)
	}
}
