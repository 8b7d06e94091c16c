package workflow_test

import (
	"errors"
	"testing"

	"github.com/medscribe/conductor"
	"github.com/medscribe/conductor/workflow"
)

func TestContext_MissingKeyFailsFast(t *testing.T) {
	c := workflow.NewContext()

	if _, err := c.Get("search_strategy"); err == nil {
		t.Fatal("expected error for missing key")
	} else {
		var missing *workflow.MissingKeyError
		if !errors.As(err, &missing) {
			t.Errorf("err = %T, want *MissingKeyError", err)
		}
		if missing.Key != "search_strategy" {
			t.Errorf("key = %q, want search_strategy", missing.Key)
		}
	}
}

func TestContext_TypedValue(t *testing.T) {
	c := workflow.NewContext()
	c.Set("threshold", 0.75)
	c.Set("question", "sglt2 inhibitors in heart failure")

	got, err := workflow.Value[float64](c, "threshold")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if got != 0.75 {
		t.Errorf("threshold = %v, want 0.75", got)
	}

	// Wrong type fails with the stored and requested types named.
	_, err = workflow.Value[int](c, "question")
	var wrong *workflow.WrongTypeError
	if !errors.As(err, &wrong) {
		t.Fatalf("err = %T, want *WrongTypeError", err)
	}
	if wrong.Got != "string" || wrong.Want != "int" {
		t.Errorf("got/want = %s/%s", wrong.Got, wrong.Want)
	}

	// Missing key through the typed accessor.
	_, err = workflow.Value[string](c, "absent")
	var missing *workflow.MissingKeyError
	if !errors.As(err, &missing) {
		t.Errorf("err = %T, want *MissingKeyError", err)
	}
}

func TestContext_KeysPreserveInsertionOrder(t *testing.T) {
	c := workflow.NewContext()
	c.Set("question", "q")
	c.Set("strategy", "broad")
	c.Set("question", "refined") // overwrite keeps original position

	want := []string{"question", "strategy"}
	got := c.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	v, err := workflow.Value[string](c, "question")
	if err != nil || v != "refined" {
		t.Errorf("question = %q (%v), want refined", v, err)
	}
}

func TestContext_SnapshotRestoreRoundTrip(t *testing.T) {
	c := workflow.NewContext()
	c.Set("question", "metformin renal outcomes")
	c.Set("hits", 42)
	c.Set("threshold", 0.6)

	data, err := c.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored := workflow.NewContext()
	if err := restored.Restore(data); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.Len() != 3 {
		t.Fatalf("len = %d, want 3", restored.Len())
	}
	hits, err := workflow.Value[int](restored, "hits")
	if err != nil || hits != 42 {
		t.Errorf("hits = %d (%v), want 42", hits, err)
	}
	keys := restored.Keys()
	if keys[0] != "question" || keys[2] != "threshold" {
		t.Errorf("insertion order lost: %v", keys)
	}
}

func TestContext_RestoreCorruptIsFatal(t *testing.T) {
	c := workflow.NewContext()
	c.Set("question", "intact")

	err := c.Restore([]byte("not a gob stream"))
	if !errors.Is(err, conductor.ErrCheckpointCorrupt) {
		t.Fatalf("err = %v, want ErrCheckpointCorrupt", err)
	}

	// The context must be left untouched.
	v, getErr := workflow.Value[string](c, "question")
	if getErr != nil || v != "intact" {
		t.Errorf("question = %q (%v), want intact", v, getErr)
	}
}

func TestContext_CloneIsIndependent(t *testing.T) {
	c := workflow.NewContext()
	c.Set("hits", 10)

	clone, err := c.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	clone.Set("hits", 99)
	clone.Set("extra", true)

	orig, _ := workflow.Value[int](c, "hits")
	if orig != 10 {
		t.Errorf("original hits = %d, want 10", orig)
	}
	if c.Has("extra") {
		t.Error("clone write leaked into original")
	}
}
