package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pulp/tasking"
	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/task"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(task.NewRegistry())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd(task.NewRegistry())
	want := []string{"cancel", "coordinator", "dev", "dispatch", "status", "worker"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
}

func TestStatus_RejectsInvalidID(t *testing.T) {
	if _, err := execute(t, "status", "not-a-task-id"); err == nil {
		t.Fatal("expected error for invalid task id")
	}
}

func TestDispatch_RejectsInvalidPayload(t *testing.T) {
	_, err := execute(t, "dispatch", "sync", "--payload", "{")
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("expected payload error, got %v", err)
	}
}

func TestSetup_FlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasking.yaml")
	content := []byte("log:\n  level: error\n  format: text\nbroker:\n  codec: msgpack\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	a := &app{configPath: path, logFormat: "json"}
	root := NewRootCmd(task.NewRegistry())
	root.SetErr(&bytes.Buffer{})
	if err := a.setup(root); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if a.cfg.Log.Level != "error" || a.cfg.Log.Format != "json" {
		t.Fatalf("log config = %+v", a.cfg.Log)
	}
	if a.cfg.Broker.Codec != "msgpack" {
		t.Fatalf("codec = %q", a.cfg.Broker.Codec)
	}
	if a.logger == nil {
		t.Fatal("logger not built")
	}
}

func TestSetup_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("heartbeat_interval: 10s\nworker_timeout: 15s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", path, "status", "x"); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestOpenBroker_RequiresRedisAddr(t *testing.T) {
	a := &app{cfg: tasking.DefaultConfig()}
	if _, _, err := a.openBroker(context.Background()); err == nil {
		t.Fatal("expected error without redis address")
	}
}

func TestOpenBroker_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	a := &app{cfg: tasking.DefaultConfig(), logger: newTestApp(t).logger}
	a.cfg.Broker.RedisAddr = mr.Addr()
	a.cfg.Broker.Codec = broker.CodecNameMsgpack

	ctx := context.Background()
	b, closeFn, err := a.openBroker(ctx)
	if err != nil {
		t.Fatalf("openBroker: %v", err)
	}
	defer closeFn() //nolint:errcheck

	if err := b.Publish(ctx, "w1.dq", &broker.Message{TaskID: "t1", Name: "sync"}); err != nil {
		t.Fatal(err)
	}
	msg, err := b.Consume(ctx, "w1.dq")
	if err != nil {
		t.Fatal(err)
	}
	if msg.TaskID != "t1" {
		t.Fatalf("TaskID = %q", msg.TaskID)
	}
}

func TestRunDev_StopsOnCancel(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := a.runDev(ctx, 2); err != nil {
		t.Fatalf("runDev: %v", err)
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a := &app{registry: task.NewRegistry()}
	root := NewRootCmd(a.registry)
	root.SetErr(&bytes.Buffer{})
	if err := a.setup(root); err != nil {
		t.Fatal(err)
	}
	return a
}
