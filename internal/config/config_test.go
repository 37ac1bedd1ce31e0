package config

import (
	"encoding/base64"
	"os"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment for Load to succeed.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("VAULT_KEYS", "1:"+testKeyB64())
}

func testKeyB64() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"AccessTokenExpiry", cfg.Auth.AccessTokenExpiry, 15 * time.Minute},
		{"RefreshTokenExpiry", cfg.Auth.RefreshTokenExpiry, 30 * 24 * time.Hour},
		{"LockoutBaseDuration", cfg.Lockout.BaseDuration, 5 * time.Minute},
		{"LockoutMaxDuration", cfg.Lockout.MaxDuration, 24 * time.Hour},
		{"OtpTTL", cfg.Mfa.OtpTTL, 5 * time.Minute},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Lockout.Threshold != 5 {
		t.Errorf("Lockout.Threshold: got %d, want 5", cfg.Lockout.Threshold)
	}
	if cfg.Password.HistoryLimit != 5 {
		t.Errorf("Password.HistoryLimit: got %d, want 5", cfg.Password.HistoryLimit)
	}
	if cfg.Mfa.BackupCodeCount != 8 {
		t.Errorf("Mfa.BackupCodeCount: got %d, want 8", cfg.Mfa.BackupCodeCount)
	}
}

func TestLoad_CustomTimeouts(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SERVER_READ_TIMEOUT", "30s")
	os.Setenv("SERVER_WRITE_TIMEOUT", "45s")
	os.Setenv("SERVER_IDLE_TIMEOUT", "120s")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 30 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 45 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 120 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SERVER_READ_TIMEOUT", "not-a-duration")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout with invalid value: got %v, want %v", cfg.Server.ReadTimeout, 15*time.Second)
	}
}

func TestLoad_MissingVaultKeys(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() with no VAULT_KEYS should fail")
	}
}

func TestParseVaultKeys(t *testing.T) {
	keyB64 := testKeyB64()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantLen int
	}{
		{"single key", "1:" + keyB64, false, 1},
		{"two keys", "1:" + keyB64 + ",2:" + keyB64, false, 2},
		{"whitespace tolerated", " 1:" + keyB64 + " , 2:" + keyB64 + " ", false, 2},
		{"empty", "", true, 0},
		{"missing colon", keyB64, true, 0},
		{"bad version", "zero:" + keyB64, true, 0},
		{"negative version", "-1:" + keyB64, true, 0},
		{"bad base64", "1:!!notbase64!!", true, 0},
		{"duplicate version", "1:" + keyB64 + ",1:" + keyB64, true, 0},
	}

	for _, tt := range tests {
		keys, err := parseVaultKeys(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got nil", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
			continue
		}
		if len(keys) != tt.wantLen {
			t.Errorf("%s: got %d keys, want %d", tt.name, len(keys), tt.wantLen)
		}
	}
}

func TestVaultConfig_Validate(t *testing.T) {
	good := []byte("0123456789abcdef0123456789abcdef")

	vc := &VaultConfig{Keys: map[int][]byte{1: good}, ActiveVersion: 1}
	if err := vc.validate(); err != nil {
		t.Errorf("valid ring: unexpected error %v", err)
	}

	vc = &VaultConfig{Keys: map[int][]byte{1: []byte("short")}, ActiveVersion: 1}
	if err := vc.validate(); err == nil {
		t.Error("short key should fail validation")
	}

	vc = &VaultConfig{Keys: map[int][]byte{1: good}, ActiveVersion: 2}
	if err := vc.validate(); err == nil {
		t.Error("active version missing from ring should fail validation")
	}
}

func TestLoad_ActiveVersionDefaultsToHighest(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("VAULT_KEYS", "1:"+testKeyB64()+",3:"+testKeyB64())
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Vault.ActiveVersion != 3 {
		t.Errorf("ActiveVersion: got %d, want 3", cfg.Vault.ActiveVersion)
	}
}
