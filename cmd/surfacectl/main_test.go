package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

const recordsJSON = `[
  {"source_type":"generic","user_id":"alice","payload":{"id":"g-1","title":"Water the plants"}},
  {"source_type":"task","user_id":"alice","payload":{"task_id":"t-1","title":"Submit tax filing","due":"2026-03-02T12:00:00Z"}},
  {"source_type":"task","user_id":"alice","payload":{"task_id":"t-2","title":"   "}}
]`

func writeRecords(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	if err := os.WriteFile(path, []byte(recordsJSON), 0o600); err != nil {
		t.Fatalf("write records: %v", err)
	}
	return path
}

func TestClassify_RanksAndSkipsInvalid(t *testing.T) {
	t.Parallel()

	var records []priority.Raw
	for _, line := range []string{
		`{"source_type":"generic","user_id":"alice","payload":{"id":"g-1","title":"Water the plants"}}`,
		`{"source_type":"task","user_id":"alice","payload":{"task_id":"t-1","title":"Submit tax filing","due":"2026-03-02T12:00:00Z"}}`,
		`{"source_type":"task","user_id":"alice","payload":{"task_id":"t-2","title":"   "}}`,
	} {
		r, err := priority.DecodeRaw([]byte(line))
		if err != nil {
			t.Fatalf("DecodeRaw: %v", err)
		}
		records = append(records, r)
	}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	items, errs := classify(records, priority.DefaultConfig(), now)

	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1 for the blank title", len(errs))
	}
	var got []string
	for _, it := range items {
		got = append(got, it.SourceID)
		if it.Quadrant == "" {
			t.Errorf("item %s has no quadrant", it.SourceID)
		}
	}
	// the task due in three hours outranks the undated errand
	if diff := cmp.Diff([]string{"t-1", "g-1"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyCommand(t *testing.T) { //nolint:paralleltest // commands share package-level flags
	path := writeRecords(t)

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"classify", path, "--at", "2026-03-02T09:00:00Z"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("classify: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output lines = %d, want header + 2 items:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "QUADRANT") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(errOut.String(), "skipped") {
		t.Errorf("stderr = %q, want skipped record", errOut.String())
	}
}

func TestCycleCommand_InMemory(t *testing.T) { //nolint:paralleltest // commands share package-level flags
	path := writeRecords(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"cycle", "--user", "alice", "--records", path, "--database-url", ""})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !strings.Contains(out.String(), `"user_id": "alice"`) {
		t.Errorf("output = %s, want cycle report for alice", out.String())
	}
	if !strings.Contains(out.String(), `"created": 2`) {
		t.Errorf("output = %s, want 2 created items", out.String())
	}
}

func TestSurfaceCommand_RejectsBadTopN(t *testing.T) { //nolint:paralleltest // commands share package-level flags
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"surface", "--user", "alice", "--top-n", "0"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for --top-n 0")
	}
}
