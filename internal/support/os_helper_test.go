package support

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("PROXYGATE_TEST_KEY", "value")

	if got := GetEnv("PROXYGATE_TEST_KEY", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %q, want value", got)
	}
	if got := GetEnv("PROXYGATE_MISSING_KEY", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("PROXYGATE_TEST_INT", "42")
	t.Setenv("PROXYGATE_TEST_BAD_INT", "not-a-number")

	if got := GetEnvInt("PROXYGATE_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}
	if got := GetEnvInt("PROXYGATE_TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("GetEnvInt should fall back on parse failure, got %d", got)
	}
	if got := GetEnvInt("PROXYGATE_MISSING_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want 7", got)
	}
}
