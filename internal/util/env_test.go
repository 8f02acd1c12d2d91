package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("AURIANCE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("AURIANCE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("AURIANCE_TEST_INT", "250")
	if got := ParseIntEnv("AURIANCE_TEST_INT", 10); got != 250 {
		t.Errorf("expected 250, got %d", got)
	}
	t.Setenv("AURIANCE_TEST_INT", "-3")
	if got := ParseIntEnv("AURIANCE_TEST_INT", 10); got != 10 {
		t.Errorf("negative value should fall back to default, got %d", got)
	}
	t.Setenv("AURIANCE_TEST_INT", "abc")
	if got := ParseIntEnv("AURIANCE_TEST_INT", 10); got != 10 {
		t.Errorf("invalid value should fall back to default, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("AURIANCE_TEST_DURATION", "90s")
	if got := ParseDurationEnv("AURIANCE_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("AURIANCE_TEST_DURATION", "soon")
	if got := ParseDurationEnv("AURIANCE_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("invalid value should fall back to default, got %v", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("AURIANCE_TEST_STR", "  value ")
	if got := GetEnv("AURIANCE_TEST_STR", "d"); got != "value" {
		t.Errorf("expected trimmed value, got %q", got)
	}
	t.Setenv("AURIANCE_TEST_STR", "")
	if got := GetEnv("AURIANCE_TEST_STR", "d"); got != "d" {
		t.Errorf("expected default, got %q", got)
	}
}
