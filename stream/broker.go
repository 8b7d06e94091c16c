package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medscribe/conductor/hook"
	"github.com/medscribe/conductor/task"
	"github.com/medscribe/conductor/workflow"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*Broker)(nil)
	_ hook.TaskEnqueued      = (*Broker)(nil)
	_ hook.TaskStarted       = (*Broker)(nil)
	_ hook.TaskCompleted     = (*Broker)(nil)
	_ hook.TaskFailed        = (*Broker)(nil)
	_ hook.TaskRetrying      = (*Broker)(nil)
	_ hook.TaskDLQ           = (*Broker)(nil)
	_ hook.TaskCancelled     = (*Broker)(nil)
	_ hook.StepStarted       = (*Broker)(nil)
	_ hook.StepCompleted     = (*Broker)(nil)
	_ hook.StepFailed        = (*Broker)(nil)
	_ hook.InstanceStarted   = (*Broker)(nil)
	_ hook.InstanceSuspended = (*Broker)(nil)
	_ hook.InstanceResumed   = (*Broker)(nil)
	_ hook.InstanceCompleted = (*Broker)(nil)
	_ hook.InstanceHalted    = (*Broker)(nil)
	_ hook.InstanceCancelled = (*Broker)(nil)
	_ hook.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the
// hook.Extension interfaces to receive lifecycle events and fans them
// out to subscribers via topic-based pub/sub. A research session UI
// subscribes to instance:<id> to follow one run; a monitor subscribes
// to firehose.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publish creates an event and broadcasts it to all matching topics.
// extra topics let task events also reach instance:<id> subscribers.
func (b *Broker) publish(evt *Event, extra ...string) {
	topics := resolveTopics(evt, extra...)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// taskData builds the common task event payload.
func taskData(t *task.Task) TaskEventData {
	d := TaskEventData{
		TaskID:   t.ID.String(),
		TaskName: t.Name,
		Priority: t.Priority.String(),
	}
	if !t.InstanceID.IsNil() {
		d.InstanceID = t.InstanceID.String()
	}
	return d
}

// taskExtraTopics returns the owning instance topic for a task, when
// it has one.
func taskExtraTopics(t *task.Task) []string {
	if t.InstanceID.IsNil() {
		return nil
	}
	return []string{InstanceTopic(t.InstanceID.String())}
}

// ── Task lifecycle hooks ────────────────────────────

func (b *Broker) OnTaskEnqueued(_ context.Context, t *task.Task) error {
	b.publish(&Event{
		Type:      EventTaskEnqueued,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(taskData(t)),
	}, taskExtraTopics(t)...)
	return nil
}

func (b *Broker) OnTaskStarted(_ context.Context, t *task.Task) error {
	d := taskData(t)
	d.Attempt = t.Attempts
	b.publish(&Event{
		Type:      EventTaskStarted,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(d),
	}, taskExtraTopics(t)...)
	return nil
}

func (b *Broker) OnTaskCompleted(_ context.Context, t *task.Task, elapsed time.Duration) error {
	d := taskData(t)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventTaskCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(d),
	}, taskExtraTopics(t)...)
	return nil
}

func (b *Broker) OnTaskFailed(_ context.Context, t *task.Task, taskErr error) error {
	d := taskData(t)
	d.Error = taskErr.Error()
	b.publish(&Event{
		Type:      EventTaskFailed,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(d),
	}, taskExtraTopics(t)...)
	return nil
}

func (b *Broker) OnTaskRetrying(_ context.Context, t *task.Task, attempt int, nextRunAt time.Time) error {
	d := taskData(t)
	d.Attempt = attempt
	d.NextRunAt = nextRunAt.Format(time.RFC3339)
	b.publish(&Event{
		Type:      EventTaskRetrying,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(d),
	}, taskExtraTopics(t)...)
	return nil
}

func (b *Broker) OnTaskDLQ(_ context.Context, t *task.Task, taskErr error) error {
	d := taskData(t)
	d.Error = taskErr.Error()
	d.Attempt = t.Attempts
	b.publish(&Event{
		Type:      EventTaskDLQ,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(d),
	}, taskExtraTopics(t)...)
	return nil
}

func (b *Broker) OnTaskCancelled(_ context.Context, t *task.Task) error {
	b.publish(&Event{
		Type:      EventTaskCancelled,
		Timestamp: time.Now().UTC(),
		Topic:     TaskTopic(t.ID.String()),
		Data:      mustMarshal(taskData(t)),
	}, taskExtraTopics(t)...)
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (b *Broker) OnStepStarted(_ context.Context, inst *workflow.Instance, step workflow.StepID) error {
	b.publish(&Event{
		Type:      EventStepStarted,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data: mustMarshal(StepEventData{
			InstanceID: inst.ID.String(),
			Step:       string(step),
		}),
	})
	return nil
}

func (b *Broker) OnStepCompleted(_ context.Context, inst *workflow.Instance, step workflow.StepID, transition string, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventStepCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data: mustMarshal(StepEventData{
			InstanceID: inst.ID.String(),
			Step:       string(step),
			Transition: transition,
			ElapsedMs:  elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, inst *workflow.Instance, step workflow.StepID, stepErr error) error {
	b.publish(&Event{
		Type:      EventStepFailed,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data: mustMarshal(StepEventData{
			InstanceID: inst.ID.String(),
			Step:       string(step),
			Error:      stepErr.Error(),
		}),
	})
	return nil
}

// ── Instance lifecycle hooks ────────────────────────

func instanceData(inst *workflow.Instance) InstanceEventData {
	return InstanceEventData{
		InstanceID:  inst.ID.String(),
		CurrentStep: string(inst.CurrentStep),
		Status:      string(inst.Status),
		AutoMode:    inst.AutoMode,
	}
}

func (b *Broker) OnInstanceStarted(_ context.Context, inst *workflow.Instance) error {
	b.publish(&Event{
		Type:      EventInstanceStarted,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data:      mustMarshal(instanceData(inst)),
	})
	return nil
}

func (b *Broker) OnInstanceSuspended(_ context.Context, inst *workflow.Instance, reason string) error {
	d := instanceData(inst)
	d.Reason = reason
	b.publish(&Event{
		Type:      EventInstanceSuspended,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data:      mustMarshal(d),
	})
	return nil
}

func (b *Broker) OnInstanceResumed(_ context.Context, inst *workflow.Instance, decision string) error {
	d := instanceData(inst)
	d.Decision = decision
	b.publish(&Event{
		Type:      EventInstanceResumed,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data:      mustMarshal(d),
	})
	return nil
}

func (b *Broker) OnInstanceCompleted(_ context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	d := instanceData(inst)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{
		Type:      EventInstanceCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data:      mustMarshal(d),
	})
	return nil
}

func (b *Broker) OnInstanceHalted(_ context.Context, inst *workflow.Instance, reason string, instErr error) error {
	d := instanceData(inst)
	d.Reason = reason
	if instErr != nil {
		d.Error = instErr.Error()
	}
	b.publish(&Event{
		Type:      EventInstanceHalted,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data:      mustMarshal(d),
	})
	return nil
}

func (b *Broker) OnInstanceCancelled(_ context.Context, inst *workflow.Instance) error {
	b.publish(&Event{
		Type:      EventInstanceCancelled,
		Timestamp: time.Now().UTC(),
		Topic:     InstanceTopic(inst.ID.String()),
		Data:      mustMarshal(instanceData(inst)),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
