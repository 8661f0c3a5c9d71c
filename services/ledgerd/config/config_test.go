package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef-secret"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGERD_HMAC_SECRET", "")
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  hmac_secret: "`+testSecret+`"
paused_modules:
  - " Ledger "
  - " "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Storage.Engine != "leveldb" || cfg.StoragePath() != filepath.Join("data/ledgerd", "state") {
		t.Fatalf("unexpected storage defaults: %+v %s", cfg.Storage, cfg.StoragePath())
	}
	if cfg.Auth.IdentityClaim != "sub" || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if len(cfg.PausedModules) != 1 || cfg.PausedModules[0] != "ledger" {
		t.Fatalf("unexpected paused modules: %v", cfg.PausedModules)
	}
	if cfg.Journal.Driver != "sqlite" || cfg.Journal.DSN != filepath.Join("data/ledgerd", "journal.db") {
		t.Fatalf("unexpected journal defaults: %+v", cfg.Journal)
	}
	if cfg.Observability.ServiceName != "ledgerd" {
		t.Fatalf("unexpected service name %q", cfg.Observability.ServiceName)
	}
}

func TestLoadConfigBoltStoragePath(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/ledgerd
storage:
  engine: BOLT
tls:
  allow_insecure: true
auth:
  hmac_secret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StoragePath() != filepath.Join("/var/lib/ledgerd", "state.db") {
		t.Fatalf("unexpected bolt path %s", cfg.StoragePath())
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	t.Setenv("LEDGERD_HMAC_SECRET", "")
	t.Setenv("LEDGERD_WEBHOOK_SECRET", "")
	cases := map[string]string{
		"missing secret": `
tls:
  allow_insecure: true
`,
		"short secret": `
tls:
  allow_insecure: true
auth:
  hmac_secret: short
`,
		"tls pair": `
tls:
  cert: server.crt
auth:
  hmac_secret: "` + testSecret + `"
`,
		"tls required": `
auth:
  hmac_secret: "` + testSecret + `"
`,
		"storage engine": `
storage:
  engine: rocks
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
`,
		"postgres dsn": `
journal:
  driver: postgres
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
`,
		"mysql dsn": `
journal:
  driver: MySQL
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
`,
		"webhook secret": `
webhook:
  url: https://hooks.example.com/ledger
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
`,
		"unknown key": `
listen_addr: ":1"
tls:
  allow_insecure: true
auth:
  hmac_secret: "` + testSecret + `"
`,
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected %s to fail validation", name)
			}
		})
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv("LEDGERD_HMAC_SECRET", testSecret)
	path := writeConfig(t, `
tls:
  allow_insecure: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.HMACSecret != testSecret {
		t.Fatalf("expected secret from environment")
	}
}

func TestWebhookConfig(t *testing.T) {
	t.Setenv("LEDGERD_WEBHOOK_SECRET", "hook-secret")
	path := writeConfig(t, `
webhook:
  url: " https://hooks.example.com/ledger "
  actions: [deposit_collateral]
tls:
  allow_insecure: true
auth:
  hmac_secret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Webhook.Enabled() || cfg.Webhook.URL != "https://hooks.example.com/ledger" {
		t.Fatalf("unexpected webhook url %q", cfg.Webhook.URL)
	}
	if cfg.Webhook.Secret != "hook-secret" || len(cfg.Webhook.Actions) != 1 {
		t.Fatalf("unexpected webhook config %+v", cfg.Webhook)
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without a path")
	}
}
