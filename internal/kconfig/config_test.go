package kconfig

import "testing"

const sampleConf = `
[global]
Listen-Address=0.0.0.0:7443
TLS-Certificate-File=/etc/kasd/tls.crt
TLS-Key-File=/etc/kasd/tls.key
DB-Connection-String=postgres://kasd@localhost/kasd
KFS-Storage-Root=/var/lib/kasd/kfs
Trusted-Ticket-Key-ID=abc123
Trusted-Ticket-Key-ID=def456
`

func TestLoadConfigBytes(t *testing.T) {
	var c Config
	if err := LoadConfigBytes(&c, []byte(sampleConf)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Global.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Global.Listen_Address != "0.0.0.0:7443" {
		t.Fatalf("listen address mismatch: %q", c.Global.Listen_Address)
	}
	if c.Global.Event_Poll_Limit != defaultEventPollLimit {
		t.Fatalf("expected default event poll limit, got %d", c.Global.Event_Poll_Limit)
	}
	set := c.Global.TrustedKeyIDSet()
	if _, ok := set["abc123"]; !ok {
		t.Fatalf("expected abc123 in trusted key set")
	}
	if _, ok := set["def456"]; !ok {
		t.Fatalf("expected def456 in trusted key set")
	}
}

func TestVerifyMissingRequiredFields(t *testing.T) {
	var c Config
	c.Global.Listen_Address = "0.0.0.0:7443"
	if err := c.Global.Verify(); err != ErrMissingTLSFiles {
		t.Fatalf("expected ErrMissingTLSFiles, got %v", err)
	}
}

func TestEnvVarOverlay(t *testing.T) {
	t.Setenv("KASD_DB_DSN", "postgres://overlay@localhost/kasd")
	var c Config
	if err := LoadConfigBytes(&c, []byte(sampleConf)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Global.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Global.DB_Connection_String != "postgres://overlay@localhost/kasd" {
		t.Fatalf("env overlay did not take effect: %q", c.Global.DB_Connection_String)
	}
}
