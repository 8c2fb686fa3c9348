package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"pubpipe/internal/api"
	"pubpipe/internal/database"
)

func approveArgs(id uuid.UUID, extra ...string) []string {
	args := []string{
		"approve", id.String(),
		"--publication-id", uuid.NewString(),
		"--publication-slug", "trade-stats",
		"--slug", "2026-q3",
	}
	return append(args, extra...)
}

func TestApproveThenStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	id := uuid.New()

	out, err := env.run(t, approveArgs(id, "--immediate")...)
	if err != nil {
		t.Fatalf("approve: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Approved release version "+id.String()) {
		t.Fatalf("unexpected approve output: %s", out)
	}
	if !strings.Contains(out, "next tick") {
		t.Fatalf("expected the in-process queue to defer scheduling to the daemon: %s", out)
	}

	out, err = env.run(t, "status", id.String())
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	for _, want := range []string{"Overall:         Pending", "Timing:          immediate", "Content", "Files", "Publishing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "due")
	if err != nil {
		t.Fatalf("due: %v\n%s", err, out)
	}
	if !strings.Contains(out, id.String()) || !strings.Contains(out, "Content (Pending)") {
		t.Fatalf("due output missing attempt:\n%s", out)
	}
}

func TestApproveTwiceSupersedes(t *testing.T) {
	env := setupCLITestEnv(t)
	id := uuid.New()

	for i := 0; i < 2; i++ {
		if out, err := env.run(t, approveArgs(id, "--immediate")...); err != nil {
			t.Fatalf("approve %d: %v\n%s", i, err, out)
		}
	}

	out, err := env.run(t, "history", id.String(), "--json")
	if err != nil {
		t.Fatalf("history: %v\n%s", err, out)
	}
	var resp api.AttemptListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(resp.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(resp.Attempts))
	}
	states := map[string]int{}
	for _, att := range resp.Attempts {
		states[att.Overall]++
	}
	if states["pending"] != 1 || states["superseded"] != 1 {
		t.Fatalf("unexpected overall states: %v", states)
	}
}

func TestApproveOnFutureDate(t *testing.T) {
	env := setupCLITestEnv(t)
	id := uuid.New()
	date := time.Now().AddDate(0, 0, 7).Format(database.DateLayout)

	out, err := env.run(t, approveArgs(id, "--publish-on", date, "--json")...)
	if err != nil {
		t.Fatalf("approve: %v\n%s", err, out)
	}
	var resp api.AttemptResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode approve: %v\n%s", err, out)
	}
	if resp.Attempt.PublishOn != date || resp.Attempt.Immediate {
		t.Fatalf("unexpected timing: %+v", resp.Attempt)
	}

	out, err = env.run(t, "due")
	if err != nil {
		t.Fatalf("due: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No attempts due") {
		t.Fatalf("future attempt should not be due:\n%s", out)
	}
}

func TestApproveRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)
	id := uuid.New()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing timing", approveArgs(id), "immediate"},
		{"both timings", approveArgs(id, "--immediate", "--publish-on", "2026-10-20"), "immediate"},
		{"bad date", approveArgs(id, "--publish-on", "20/10/2026"), "--publish-on"},
		{"bad id", []string{"approve", "not-a-uuid", "--publication-id", uuid.NewString(), "--publication-slug", "p", "--slug", "r", "--immediate"}, "invalid release version id"},
		{"bad data set", approveArgs(id, "--immediate", "--data-set", "nope"), "--data-set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, tt.args...)
			if err == nil {
				t.Fatalf("expected error, got output:\n%s", out)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestStatusUnknownReleaseVersion(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "status", uuid.NewString())
	if err == nil || !strings.Contains(err.Error(), "no publishing attempt") {
		t.Fatalf("expected missing attempt error, got %v", err)
	}
}

func TestHealthCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "health")
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	for _, want := range []string{"store (sqlite)", "Staging files", "Public files"} {
		if !strings.Contains(out, want) {
			t.Fatalf("health output missing %q:\n%s", want, out)
		}
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestConfigInit(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "nested", "pubpipe.toml")

	out, err := env.run(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[pipeline]") {
		t.Fatalf("sample config missing pipeline section")
	}

	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config already exists")
	}
	if _, err := env.run(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Config path: "+env.configPath) || !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestLogsFiltersByReleaseVersion(t *testing.T) {
	env := setupCLITestEnv(t)
	id := uuid.New()
	content := "INFO stage started release_version_id=" + id.String() + "\n" +
		"INFO stage started release_version_id=" + uuid.NewString() + "\n"
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "pubpipe.log"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "logs", "--release-version", id.String())
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "stage started") != 1 || !strings.Contains(out, id.String()) {
		t.Fatalf("unexpected logs output:\n%s", out)
	}
}
