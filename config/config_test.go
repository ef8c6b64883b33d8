package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lwm2m-go/engine/coap"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		json string
		want BootstrapConfig
	}{
		{
			name: "nosec only",
			json: `{"known_clients":["cli1","cli2"],"security":[{"kind":"nosec"}]}`,
			want: BootstrapConfig{
				KnownClients: []string{"cli1", "cli2"},
				Security:     []coap.SecurityMode{{Kind: coap.SecurityModeNoSec}},
			},
		},
		{
			name: "psk",
			json: `{"known_clients":["cli1"],"security":[{"kind":"psk","identity":"aWQ=","key":"a2V5"}]}`,
			want: BootstrapConfig{
				KnownClients: []string{"cli1"},
				Security:     []coap.SecurityMode{{Kind: coap.SecurityModePSK, Identity: []byte("id"), Key: []byte("key")}},
			},
		},
	}
	for _, tc := range cases {
		cfg, err := Parse([]byte(tc.json))
		if err != nil {
			t.Fatalf("%s: Parse: %s", tc.name, err)
		}
		if len(cfg.KnownClients) != len(tc.want.KnownClients) {
			t.Fatalf("%s: KnownClients = %v want %v", tc.name, cfg.KnownClients, tc.want.KnownClients)
		}
		for i, ep := range tc.want.KnownClients {
			if cfg.KnownClients[i] != ep {
				t.Errorf("%s: KnownClients[%d] = %s want %s", tc.name, i, cfg.KnownClients[i], ep)
			}
		}
		if len(cfg.Security) != len(tc.want.Security) {
			t.Fatalf("%s: Security = %v want %v", tc.name, cfg.Security, tc.want.Security)
		}
		for i, m := range tc.want.Security {
			got := cfg.Security[i]
			if got.Kind != m.Kind || string(got.Identity) != string(m.Identity) || string(got.Key) != string(m.Key) {
				t.Errorf("%s: Security[%d] = %+v want %+v", tc.name, i, got, m)
			}
		}
	}
}

func TestParseRejectsUnknownSecurityKind(t *testing.T) {
	_, err := Parse([]byte(`{"known_clients":[],"security":[{"kind":"bogus"}]}`))
	if err == nil {
		t.Fatal("Parse with unknown security kind should fail")
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	if err == nil {
		t.Fatal("Parse with invalid JSON should fail")
	}
}

func TestAddKnownClient(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap.json")
	initial := `{"known_clients":["cli1"],"security":[{"kind":"nosec"}]}`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	if err := AddKnownClient(path, "cli2"); err != nil {
		t.Fatalf("AddKnownClient: %s", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if len(cfg.KnownClients) != 2 || cfg.KnownClients[0] != "cli1" || cfg.KnownClients[1] != "cli2" {
		t.Fatalf("KnownClients after AddKnownClient = %v", cfg.KnownClients)
	}
	if len(cfg.Security) != 1 || cfg.Security[0].Kind != coap.SecurityModeNoSec {
		t.Errorf("Security untouched by AddKnownClient = %v", cfg.Security)
	}
}
