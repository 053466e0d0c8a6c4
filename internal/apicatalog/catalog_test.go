package apicatalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndResolve(t *testing.T) {
	content := `[
		{
			"version": "v1",
			"baseUrl": {"prod": "https://api.example.com"},
			"definitions": [
				{"name": "billing", "swaggerUrl": "billing.json", "basePath": "/billing"},
				{"name": "accounts", "swaggerUrl": "accounts.json", "baseUrl": {"prod": "https://accounts.example.com"}}
			]
		}
	]`
	path := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	v, ok := cat.FindVersion("v1")
	if !ok {
		t.Fatal("expected version v1")
	}

	billing, ok := v.FindDefinition("billing")
	if !ok {
		t.Fatal("expected billing definition")
	}
	base, ok := v.BaseURLFor(billing, "prod")
	if !ok || base != "https://api.example.com" {
		t.Errorf("base = %q, ok=%v", base, ok)
	}
	if got := CombineURL(base, billing.BasePath); got != "https://api.example.com/billing" {
		t.Errorf("combined = %q", got)
	}

	accounts, _ := v.FindDefinition("accounts")
	accountsBase, ok := v.BaseURLFor(accounts, "prod")
	if !ok || accountsBase != "https://accounts.example.com" {
		t.Errorf("accounts base = %q, ok=%v", accountsBase, ok)
	}

	if _, ok := v.BaseURLFor(billing, "staging"); ok {
		t.Error("expected no baseUrl for unknown environment")
	}
}
