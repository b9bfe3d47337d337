package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("ENV_TEST_STRING", "set")
	if got := String("ENV_TEST_STRING", "def"); got != "set" {
		t.Fatalf("got %q", got)
	}
	if got := String("ENV_TEST_STRING_MISSING", "def"); got != "def" {
		t.Fatalf("got %q", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("ENV_TEST_INT", "7")
	got, err := Int("ENV_TEST_INT", 1)
	if err != nil || got != 7 {
		t.Fatalf("got %d, %v", got, err)
	}
	got, err = Int("ENV_TEST_INT_MISSING", 1)
	if err != nil || got != 1 {
		t.Fatalf("got %d, %v", got, err)
	}

	t.Setenv("ENV_TEST_INT_BAD", "seven")
	if _, err := Int("ENV_TEST_INT_BAD", 1); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("ENV_TEST_BOOL", "true")
	got, err := Bool("ENV_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("got %v, %v", got, err)
	}

	t.Setenv("ENV_TEST_BOOL_BAD", "yep")
	if _, err := Bool("ENV_TEST_BOOL_BAD", false); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("ENV_TEST_DURATION", "90s")
	got, err := Duration("ENV_TEST_DURATION", time.Second)
	if err != nil || got != 90*time.Second {
		t.Fatalf("got %s, %v", got, err)
	}
	got, err = Duration("ENV_TEST_DURATION_MISSING", time.Second)
	if err != nil || got != time.Second {
		t.Fatalf("got %s, %v", got, err)
	}
}
