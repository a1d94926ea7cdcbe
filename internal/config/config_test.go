package config

import (
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"
)

func TestGetConfig(t *testing.T) {
	c, err := GetConfig(Defaults(), path.Join("..", "..", "testdata", "test.json"))
	if err != nil {
		t.Fatalf("got error when reading config file: %v", err)
	}
	if c == nil {
		t.Fatal("got a nil config object")
	}
	if c.DatabasePath != "dmarc.db" {
		t.Fatalf("wrong database path %q", c.DatabasePath)
	}
	if c.FetchInterval.Duration != 30*time.Minute {
		t.Fatalf("wrong fetch interval %s", c.FetchInterval)
	}
	if c.ImapConfig.Timeout.Duration != 30*time.Second {
		t.Fatalf("wrong imap timeout %s", c.ImapConfig.Timeout)
	}
	if err := c.ValidateIMAP(); err != nil {
		t.Fatalf("imap config should be valid: %v", err)
	}
}

func TestGetConfigDefaults(t *testing.T) {
	c, err := GetConfig(Defaults(), path.Join("..", "..", "testdata", "noimap.json"))
	if err != nil {
		t.Fatalf("got error when reading config file: %v", err)
	}
	if c.IngestWorkers != 4 || c.BatchSize != 30 || c.UploadDir != "uploads" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.ImapConfig.Folder != "INBOX" {
		t.Fatalf("imap defaults not applied: %+v", c.ImapConfig)
	}
	if err := c.ValidateIMAP(); err == nil {
		t.Fatal("expected error for missing imap settings")
	}
}

func TestGetConfigErrors(t *testing.T) {
	_, err := GetConfig(Defaults(), "")
	if err == nil {
		t.Fatal("expected error on empty filename")
	}
	_, err = GetConfig(Defaults(), "this_does_not_exist")
	if err == nil {
		t.Fatal("expected error on invalid file")
	}
}

func TestGetConfigInvalid(t *testing.T) {
	_, err := GetConfig(Defaults(), path.Join("..", "..", "testdata", "invalid.json"))
	if err == nil {
		t.Fatal("expected error when reading config file but got none")
	}
}

func TestGetConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing database", `{}`},
		{"too many workers", `{"databasePath": "a.db", "ingestWorkers": 65}`},
		{"no workers", `{"databasePath": "a.db", "ingestWorkers": 0}`},
		{"bad log level", `{"databasePath": "a.db", "logLevel": "trace"}`},
		{"bad listen", `{"databasePath": "a.db", "listen": "nope"}`},
		{"unknown key", `{"databasePath": "a.db", "syslogServer": "x"}`},
		{"bad duration", `{"databasePath": "a.db", "fetchInterval": "soon"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(f, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := GetConfig(Defaults(), f); err == nil {
				t.Fatal("expected error but got none")
			}
		})
	}
}

func TestDurationJSON(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1m30s"` {
		t.Fatalf("wrong json %s", b)
	}
	var parsed Duration
	if err := parsed.UnmarshalJSON([]byte(`1000000000`)); err != nil {
		t.Fatal(err)
	}
	if parsed.Duration != time.Second {
		t.Fatalf("wrong duration %s", parsed)
	}
	if err := parsed.UnmarshalJSON([]byte(`true`)); err == nil {
		t.Fatal("expected error for bool duration")
	}
}
