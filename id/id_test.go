package id_test

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/medscribe/conductor/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"TaskID", id.NewTaskID, "task_"},
		{"InstanceID", id.NewInstanceID, "inst_"},
		{"CheckpointID", id.NewCheckpointID, "ckpt_"},
		{"DLQID", id.NewDLQID, "dlq_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"TaskID", id.NewTaskID, id.ParseTaskID},
		{"InstanceID", id.NewInstanceID, id.ParseInstanceID},
		{"CheckpointID", id.NewCheckpointID, id.ParseCheckpointID},
		{"DLQID", id.NewDLQID, id.ParseDLQID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseTaskID rejects inst_", id.NewInstanceID().String(), id.ParseTaskID},
		{"ParseInstanceID rejects ckpt_", id.NewCheckpointID().String(), id.ParseInstanceID},
		{"ParseCheckpointID rejects dlq_", id.NewDLQID().String(), id.ParseCheckpointID},
		{"ParseDLQID rejects wkr_", id.NewWorkerID().String(), id.ParseDLQID},
		{"ParseWorkerID rejects task_", id.NewTaskID().String(), id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestNilID(t *testing.T) {
	var nilID id.ID
	if !nilID.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if nilID.String() != "" {
		t.Errorf("nil ID String() = %q, want empty", nilID.String())
	}

	val, err := nilID.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if val != nil {
		t.Errorf("nil ID Value() = %v, want nil", val)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := id.NewTaskID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", decoded.String(), original.String())
	}
}

func TestScan(t *testing.T) {
	original := id.NewTaskID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("scan string mismatch: %q", fromString.String())
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("scan nil should yield nil ID")
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

// Task claim order relies on IDs generated later sorting after IDs
// generated earlier (UUIDv7 K-sortability).
func TestKSortable(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = id.NewTaskID().String()
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("IDs not K-sortable: generation order %v, sorted order %v", ids, sorted)
		}
	}
}
