package checker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Minoru/minoru-fediverse-crawler/internal/policy"
	"github.com/Minoru/minoru-fediverse-crawler/internal/registry"
)

// TestMain re-executes the test binary itself as a fake checker subprocess
// when helperModeEnv is "1", printing helperScriptEnv's value, following the standard library's own
// os/exec-test pattern for faking a child process without a separate binary.
func TestMain(m *testing.M) {
	if os.Getenv(helperModeEnv) == "1" {
		fmt.Print(os.Getenv(helperScriptEnv))
		os.Exit(0)
	}
	os.Exit(m.Run())
}

const (
	helperModeEnv   = "CHECKER_TEST_HELPER_MODE"
	helperScriptEnv = "CHECKER_TEST_HELPER_SCRIPT"
)

func openTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	reg, err := registry.Open(path)
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	if err := reg.Init(context.Background()); err != nil {
		t.Fatalf("initializing registry: %v", err)
	}
	return reg
}

func runProcessWithScript(t *testing.T, reg *registry.Registry, admit *policy.Admitter, host, script string) Outcome {
	t.Helper()
	exePath, err := os.Executable()
	if err != nil {
		t.Fatalf("resolving test executable: %v", err)
	}

	t.Setenv(helperModeEnv, "1")
	t.Setenv(helperScriptEnv, script)

	return Process(context.Background(), reg, admit, exePath, host)
}

func TestProcessAliveMarksInstanceAlive(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "newinstance.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	script := `{"State":{"state":"Alive","hide_from_list":false}}` + "\n"
	out := runProcessWithScript(t, reg, admit, host, script)

	if out.Result != "alive" {
		t.Fatalf("expected result alive, got %q (err=%v)", out.Result, out.Err)
	}

	snap, err := reg.GetSnapshot(context.Background(), host)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != registry.Alive {
		t.Errorf("expected Alive state, got %v", snap.State)
	}
}

func TestProcessEOFBeforeStateMarksDead(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "silentinstance.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	out := runProcessWithScript(t, reg, admit, host, "")

	if out.Result != "dying-or-dead" {
		t.Fatalf("expected dying-or-dead, got %q", out.Result)
	}
	snap, err := reg.GetSnapshot(context.Background(), host)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != registry.Dying {
		t.Errorf("expected Dying after a single failed check, got %v", snap.State)
	}
}

func TestProcessPeerBeforeStateIsProtocolViolation(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "badprotocol.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	script := `{"Peer":{"peer":"somepeer.social"}}` + "\n"
	out := runProcessWithScript(t, reg, admit, host, script)

	if out.Result != "protocol-violation" {
		t.Fatalf("expected protocol-violation, got %q", out.Result)
	}
	snap, err := reg.GetSnapshot(context.Background(), host)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != registry.Dying {
		t.Errorf("expected a protocol violation to mark the instance dead/dying, got %v", snap.State)
	}
}

func TestProcessPeerAfterStateIsAdmitted(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "goodprotocol.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	script := `{"State":{"state":"Alive","hide_from_list":false}}` + "\n" +
		`{"Peer":{"peer":"discoveredpeer.social"}}` + "\n"
	out := runProcessWithScript(t, reg, admit, host, script)

	if out.Result != "alive" {
		t.Fatalf("expected alive, got %q (err=%v)", out.Result, out.Err)
	}
	if out.PeersFound != 1 || out.PeersAdded != 1 {
		t.Errorf("expected one peer found and added, got found=%d added=%d", out.PeersFound, out.PeersAdded)
	}

	snap, err := reg.GetSnapshot(context.Background(), "discoveredpeer.social")
	if err != nil {
		t.Fatalf("expected discovered peer to be added to the registry: %v", err)
	}
	if snap.State != registry.Discovered {
		t.Errorf("expected discovered peer to start Discovered, got %v", snap.State)
	}
}

func TestProcessSelfRedirectMarksDead(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "loopinstance.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	script := `{"State":{"state":"Moved","to":"loopinstance.social"}}` + "\n"
	out := runProcessWithScript(t, reg, admit, host, script)

	if out.Result != "moving" {
		t.Fatalf("expected self-redirect to be treated as moving/dead, got %q", out.Result)
	}
	snap, err := reg.GetSnapshot(context.Background(), host)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != registry.Dying {
		t.Errorf("expected self-redirect to demote the instance, got %v", snap.State)
	}
}

func TestProcessConfirmedRedirectMarksMoved(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "movinginstance.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	script := `{"State":{"state":"Moved","to":"newhome.social"}}` + "\n"
	out := runProcessWithScript(t, reg, admit, host, script)

	if out.Result != "moved" {
		t.Fatalf("expected moved, got %q (err=%v)", out.Result, out.Err)
	}
	snap, err := reg.GetSnapshot(context.Background(), host)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != registry.Moving {
		t.Errorf("expected first Moved report to land in Moving, got %v", snap.State)
	}
	if snap.MovingTarget != "newhome.social" {
		t.Errorf("expected moving target newhome.social, got %q", snap.MovingTarget)
	}
}

func TestProcessSpawnFailureMarksDead(t *testing.T) {
	reg := openTestRegistry(t)
	admit, _ := policy.NewAdmitter("")
	host := "unspawnable.social"
	if err := reg.AddInstance(context.Background(), host); err != nil {
		t.Fatalf("seeding instance: %v", err)
	}

	out := Process(context.Background(), reg, admit, filepath.Join(t.TempDir(), "does-not-exist"), host)

	if out.Result != "spawn-failed" {
		t.Fatalf("expected spawn-failed, got %q", out.Result)
	}
	if out.Err == nil {
		t.Error("expected a non-nil error for a spawn failure")
	}
	snap, err := reg.GetSnapshot(context.Background(), host)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != registry.Dying {
		t.Errorf("expected a spawn failure to mark the instance dead/dying, got %v", snap.State)
	}
}
