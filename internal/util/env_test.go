package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("RP_TEST_BOOL", "yes")
	if !ParseBoolEnv("RP_TEST_BOOL", false) {
		t.Error("expected true for 'yes'")
	}
	t.Setenv("RP_TEST_BOOL", "off")
	if ParseBoolEnv("RP_TEST_BOOL", true) {
		t.Error("expected false for 'off'")
	}
	t.Setenv("RP_TEST_BOOL", "maybe")
	if !ParseBoolEnv("RP_TEST_BOOL", true) {
		t.Error("expected default for invalid value")
	}
	if ParseBoolEnv("RP_TEST_BOOL_UNSET", false) {
		t.Error("expected default for unset variable")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("RP_TEST_INT", "42")
	if got := ParseIntEnv("RP_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("RP_TEST_INT", "not-a-number")
	if got := ParseIntEnv("RP_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}
