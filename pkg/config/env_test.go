package config

import (
	"testing"
	"time"
)

func TestEnvOrInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("GEORISK_TEST_INT", "nope")
	if got := EnvOrInt("GEORISK_TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	t.Setenv("GEORISK_TEST_INT", "12")
	if got := EnvOrInt("GEORISK_TEST_INT", 7); got != 12 {
		t.Errorf("got %d, want 12", got)
	}
}

func TestEnvOrDuration(t *testing.T) {
	t.Setenv("GEORISK_TEST_DUR", "90s")
	if got := EnvOrDuration("GEORISK_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("got %s", got)
	}
	t.Setenv("GEORISK_TEST_DUR", "-5s")
	if got := EnvOrDuration("GEORISK_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("negative duration should fall back, got %s", got)
	}
}

func TestEnvOrList(t *testing.T) {
	t.Setenv("GEORISK_TEST_LIST", " Japan, ,Vietnam ")
	got := EnvOrList("GEORISK_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "Japan" || got[1] != "Vietnam" {
		t.Errorf("got %v", got)
	}
	t.Setenv("GEORISK_TEST_LIST", " , ")
	if got := EnvOrList("GEORISK_TEST_LIST", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("blank list should fall back, got %v", got)
	}
}

func TestEnvOrBool(t *testing.T) {
	t.Setenv("GEORISK_TEST_BOOL", "true")
	if !EnvOrBool("GEORISK_TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("GEORISK_TEST_BOOL", "maybe")
	if EnvOrBool("GEORISK_TEST_BOOL", false) {
		t.Error("invalid value should fall back to false")
	}
}
