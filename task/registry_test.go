package task_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/medscribe/conductor/task"
)

type searchPayload struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := task.NewRegistry()

	var got searchPayload
	def := task.NewDefinition("pubmed-search", func(_ context.Context, p searchPayload) ([]byte, error) {
		got = p
		return []byte(`{"hits":3}`), nil
	})

	task.RegisterDefinition(r, def)

	h, ok := r.Get("pubmed-search")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(searchPayload{Query: "statin myopathy", Limit: 20})
	result, err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Query != "statin myopathy" {
		t.Errorf("Query = %q, want %q", got.Query, "statin myopathy")
	}
	if got.Limit != 20 {
		t.Errorf("Limit = %d, want 20", got.Limit)
	}
	if string(result) != `{"hits":3}` {
		t.Errorf("result = %s, want {\"hits\":3}", result)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := task.NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered task")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := task.NewRegistry()

	task.RegisterDefinition(r, task.NewDefinition("task-a", func(_ context.Context, _ struct{}) ([]byte, error) { return nil, nil }))
	task.RegisterDefinition(r, task.NewDefinition("task-b", func(_ context.Context, _ struct{}) ([]byte, error) { return nil, nil }))
	task.RegisterDefinition(r, task.NewDefinition("task-c", func(_ context.Context, _ struct{}) ([]byte, error) { return nil, nil }))

	names := r.Names()
	sort.Strings(names)
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
	expected := []string{"task-a", "task-b", "task-c"}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want)
		}
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := task.NewRegistry()
	task.RegisterDefinition(r, task.NewDefinition("typed-task", func(_ context.Context, _ searchPayload) ([]byte, error) {
		t.Fatal("handler should not be called with invalid JSON")
		return nil, nil
	}))

	h, _ := r.Get("typed-task")
	_, err := h(context.Background(), []byte(`{invalid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyPayload(t *testing.T) {
	r := task.NewRegistry()
	called := false
	task.RegisterDefinition(r, task.NewDefinition("no-payload", func(_ context.Context, _ struct{}) ([]byte, error) {
		called = true
		return nil, nil
	}))

	h, _ := r.Get("no-payload")
	_, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty payload")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := task.NewRegistry()
	want := errors.New("handler failed")
	task.RegisterDefinition(r, task.NewDefinition("failing", func(_ context.Context, _ struct{}) ([]byte, error) {
		return nil, want
	}))

	h, _ := r.Get("failing")
	_, err := h(context.Background(), nil)
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRegistry_OverwriteHandler(t *testing.T) {
	r := task.NewRegistry()

	task.RegisterDefinition(r, task.NewDefinition("overwrite", func(_ context.Context, _ struct{}) ([]byte, error) {
		return nil, errors.New("old")
	}))
	task.RegisterDefinition(r, task.NewDefinition("overwrite", func(_ context.Context, _ struct{}) ([]byte, error) {
		return nil, errors.New("new")
	}))

	h, _ := r.Get("overwrite")
	_, err := h(context.Background(), nil)
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := []task.State{task.StateCompleted, task.StateDead, task.StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	live := []task.State{task.StatePending, task.StateRunning, task.StateFailed, task.StateRetrying}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(task.PriorityHigh > task.PriorityNormal && task.PriorityNormal > task.PriorityLow) {
		t.Fatal("priority constants must order high > normal > low")
	}
}
