package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "omniledger.toml")
	body := `
[chain]
fee_currency = "ACA"
intermediate_currency = "AUSD"
non_fee_currencies = ["AUSD", "DOT"]
new_account_deposit = 250
treasury_module_id = "aca/trsy"
max_swap_slippage_ppm = 20000

[fees]
base_fee = 5

[service]
http_addr = ":9999"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.FeeCurrency != "ACA" || cfg.Chain.NewAccountDeposit != 250 {
		t.Errorf("chain overrides not applied: %+v", cfg.Chain)
	}
	if cfg.Fees.BaseFee != 5 {
		t.Errorf("fee override not applied: %+v", cfg.Fees)
	}
	if cfg.Service.HTTPAddr != ":9999" {
		t.Errorf("service override not applied: %+v", cfg.Service)
	}
	// Untouched keys keep defaults.
	if cfg.Service.PersistBatchSize != 50 {
		t.Errorf("default lost: %+v", cfg.Service)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	t.Setenv("OMNI_HTTP_ADDR", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.HTTPAddr != ":7777" {
		t.Errorf("env override not applied: %q", cfg.Service.HTTPAddr)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing fee currency", func(c *Config) { c.Chain.FeeCurrency = "" }},
		{"intermediate equals fee", func(c *Config) { c.Chain.IntermediateCurrency = c.Chain.FeeCurrency }},
		{"zero deposit", func(c *Config) { c.Chain.NewAccountDeposit = 0 }},
		{"fee currency in non-fee list", func(c *Config) {
			c.Chain.NonFeeCurrencies = append(c.Chain.NonFeeCurrencies, c.Chain.FeeCurrency)
		}},
		{"duplicate non-fee currency", func(c *Config) {
			c.Chain.NonFeeCurrencies = []string{"OUSD", "OUSD"}
		}},
		{"zero block weight", func(c *Config) { c.Limits.MaxBlockWeight = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
