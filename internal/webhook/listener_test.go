package webhook

import (
	"log/slog"
	"os"
	"strconv"
	"testing"
)

func TestActivatedListener_NoEnvironment(t *testing.T) {
	// Ensure env vars are not set
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")

	ln, err := activatedListener()
	if err != nil {
		t.Fatalf("activatedListener() unexpected error: %v", err)
	}

	if ln != nil {
		t.Errorf("expected nil listener when no env vars set, got %v", ln)
	}
}

func TestActivatedListener_WrongPID(t *testing.T) {
	// Set env vars for a different process
	_ = os.Setenv("LISTEN_PID", "99999")
	_ = os.Setenv("LISTEN_FDS", "1")
	defer func() {
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
	}()

	ln, err := activatedListener()
	if err != nil {
		t.Fatalf("activatedListener() unexpected error: %v", err)
	}

	if ln != nil {
		t.Errorf("expected nil listener when PID doesn't match, got %v", ln)
	}
}

func TestActivatedListener_InvalidPID(t *testing.T) {
	_ = os.Setenv("LISTEN_PID", "not-a-number")
	_ = os.Setenv("LISTEN_FDS", "1")
	defer func() {
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
	}()

	_, err := activatedListener()
	if err == nil {
		t.Error("expected error for invalid LISTEN_PID, got nil")
	}
}

func TestActivatedListener_InvalidFDS(t *testing.T) {
	_ = os.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	_ = os.Setenv("LISTEN_FDS", "not-a-number")
	defer func() {
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
	}()

	_, err := activatedListener()
	if err == nil {
		t.Error("expected error for invalid LISTEN_FDS, got nil")
	}
}

func TestActivatedListener_ZeroFDs(t *testing.T) {
	_ = os.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	_ = os.Setenv("LISTEN_FDS", "0")
	defer func() {
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
	}()

	ln, err := activatedListener()
	if err != nil {
		t.Fatalf("activatedListener() unexpected error: %v", err)
	}

	if ln != nil {
		t.Errorf("expected nil listener when LISTEN_FDS=0, got %v", ln)
	}
}

func TestListener_BindsConfiguredAddress(t *testing.T) {
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")

	cfg, _ := setupTestConfig(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	server, err := NewServer(cfg, newMockPushHandler(), logger)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	ln, err := server.listener()
	if err != nil {
		t.Fatalf("listener() failed: %v", err)
	}
	defer func() {
		_ = ln.Close()
	}()

	if ln.Addr().String() == "" {
		t.Error("expected a bound address")
	}
}
