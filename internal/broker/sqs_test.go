package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// mockSQSClient implements sqsAPI for testing.
type mockSQSClient struct {
	mu         sync.Mutex
	messages   []sqsReceivedMessage
	sent       []sqsSendInput
	deleted    []sqsDeleteInput
	released   []sqsChangeVisibilityInput
	receiveErr error
	sendErr    error
	attrErr    map[string]error
	receives   int
	attrCalls  []string
}

func (m *mockSQSClient) QueueARN(_ context.Context, queueURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrCalls = append(m.attrCalls, queueURL)
	if err := m.attrErr[queueURL]; err != nil {
		return "", err
	}
	return "arn:aws:sqs:us-east-1:123:queue", nil
}

func (m *mockSQSClient) SendMessage(_ context.Context, input *sqsSendInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, *input)
	return nil
}

func (m *mockSQSClient) ReceiveMessage(_ context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receives++
	if m.receiveErr != nil {
		return nil, m.receiveErr
	}
	if input.MaxNumberOfMessages != 1 {
		return nil, errors.New("consumer must receive one message at a time")
	}
	if len(m.messages) == 0 {
		return &sqsReceiveOutput{}, nil
	}
	msg := m.messages[0]
	m.messages = m.messages[1:]
	return &sqsReceiveOutput{Messages: []sqsReceivedMessage{msg}}, nil
}

func (m *mockSQSClient) DeleteMessage(_ context.Context, input *sqsDeleteInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, *input)
	return nil
}

func (m *mockSQSClient) ChangeMessageVisibility(_ context.Context, input *sqsChangeVisibilityInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, *input)
	return nil
}

func testSQSConfig() SQSConfig {
	return SQSConfig{
		QueueURL:        "https://sqs.us-east-1.amazonaws.com/123/order-created",
		DLQueueURL:      "https://sqs.us-east-1.amazonaws.com/123/order-created-dlq",
		WaitTimeSeconds: 1,
	}
}

func TestSQSConsumer_AckDeletes(t *testing.T) {
	client := &mockSQSClient{messages: []sqsReceivedMessage{
		{MessageID: "m-1", ReceiptHandle: "r-1", Body: `{"user_email":"a@x.com"}`, ReceiveCount: 1},
	}}
	c := newSQSConsumer(client, testSQSConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.Consume(ctx, HandlerFunc(func(ctx context.Context, d Delivery) {
		if d.ID() != "m-1" || d.Redelivered() {
			t.Errorf("delivery = (%s, redelivered=%v)", d.ID(), d.Redelivered())
		}
		if err := d.Ack(ctx); err != nil {
			t.Errorf("Ack() error = %v", err)
		}
		cancel()
	}))
	if err != nil {
		t.Fatalf("Consume() = %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0].ReceiptHandle != "r-1" {
		t.Errorf("deleted = %+v", client.deleted)
	}
}

func TestSQSConsumer_RejectForwardsToDLQ(t *testing.T) {
	client := &mockSQSClient{messages: []sqsReceivedMessage{
		{MessageID: "m-2", ReceiptHandle: "r-2", Body: "not json", ReceiveCount: 3},
	}}
	c := newSQSConsumer(client, testSQSConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Consume(ctx, HandlerFunc(func(ctx context.Context, d Delivery) {
		if !d.Redelivered() {
			t.Error("ReceiveCount > 1 should mark the delivery redelivered")
		}
		if err := d.Reject(ctx, false); err != nil {
			t.Errorf("Reject() error = %v", err)
		}
		cancel()
	}))

	if len(client.sent) != 1 || client.sent[0].QueueURL != testSQSConfig().DLQueueURL || client.sent[0].MessageBody != "not json" {
		t.Errorf("sent = %+v, want one DLQ forward", client.sent)
	}
	if len(client.deleted) != 1 {
		t.Errorf("original should be deleted after forwarding, deleted = %+v", client.deleted)
	}
}

func TestSQSConsumer_RejectWithoutDLQDrops(t *testing.T) {
	cfg := testSQSConfig()
	cfg.DLQueueURL = ""
	client := &mockSQSClient{messages: []sqsReceivedMessage{{MessageID: "m-3", ReceiptHandle: "r-3"}}}
	c := newSQSConsumer(client, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Consume(ctx, HandlerFunc(func(ctx context.Context, d Delivery) {
		_ = d.Reject(ctx, false)
		cancel()
	}))

	if len(client.sent) != 0 || len(client.deleted) != 1 {
		t.Errorf("sent = %d deleted = %d, want 0 and 1", len(client.sent), len(client.deleted))
	}
}

func TestSQSConsumer_DLQFailureKeepsMessage(t *testing.T) {
	client := &mockSQSClient{
		messages: []sqsReceivedMessage{{MessageID: "m-4", ReceiptHandle: "r-4"}},
		sendErr:  errors.New("throttled"),
	}
	c := newSQSConsumer(client, testSQSConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Consume(ctx, HandlerFunc(func(ctx context.Context, d Delivery) {
		if err := d.Reject(ctx, false); err == nil {
			t.Error("expected forward error")
		}
		cancel()
	}))

	if len(client.deleted) != 0 {
		t.Error("message must not be deleted when the DLQ forward fails")
	}
}

func TestSQSConsumer_RequeueReleasesVisibility(t *testing.T) {
	client := &mockSQSClient{messages: []sqsReceivedMessage{{MessageID: "m-5", ReceiptHandle: "r-5"}}}
	c := newSQSConsumer(client, testSQSConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Consume(ctx, HandlerFunc(func(ctx context.Context, d Delivery) {
		_ = d.Reject(ctx, true)
		cancel()
	}))

	if len(client.released) != 1 || client.released[0].VisibilityTimeout != 0 {
		t.Errorf("released = %+v", client.released)
	}
}

func TestSQSConsumer_ReceiveErrorIsConnectionLost(t *testing.T) {
	client := &mockSQSClient{receiveErr: errors.New("dial tcp: connection refused")}
	c := newSQSConsumer(client, testSQSConfig(), zerolog.Nop())

	err := c.Consume(context.Background(), HandlerFunc(func(context.Context, Delivery) {}))
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Consume() = %v, want ErrConnectionLost", err)
	}
}

func TestDialSQS_ChecksQueues(t *testing.T) {
	client := &mockSQSClient{}
	c, err := dialSQS(context.Background(), client, testSQSConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("dialSQS() error = %v", err)
	}
	if c == nil {
		t.Fatal("dialSQS() returned nil consumer")
	}
	want := []string{testSQSConfig().QueueURL, testSQSConfig().DLQueueURL}
	if len(client.attrCalls) != 2 || client.attrCalls[0] != want[0] || client.attrCalls[1] != want[1] {
		t.Errorf("attribute lookups = %v, want %v", client.attrCalls, want)
	}
}

func TestDialSQS_UnreachableQueueFails(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"main queue", testSQSConfig().QueueURL},
		{"dead letter queue", testSQSConfig().DLQueueURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
			client := &mockSQSClient{attrErr: map[string]error{tt.url: cause}}

			c, err := dialSQS(context.Background(), client, testSQSConfig(), zerolog.Nop())
			if err == nil {
				t.Fatal("dialSQS() should fail when a queue is unreachable")
			}
			if !errors.Is(err, cause) {
				t.Errorf("error = %v, want wrapped %v", err, cause)
			}
			if c != nil {
				t.Error("dialSQS() should not return a consumer on failure")
			}
		})
	}
}

func TestSupervisor_ConnectFailsWhenSQSUnreachable(t *testing.T) {
	client := &mockSQSClient{attrErr: map[string]error{
		testSQSConfig().QueueURL: errors.New("no credentials"),
	}}
	dial := DialerFunc(func(ctx context.Context) (Consumer, error) {
		c, err := dialSQS(ctx, client, testSQSConfig(), zerolog.Nop())
		if err != nil {
			return nil, err
		}
		return c, nil
	})

	noop := HandlerFunc(func(context.Context, Delivery) {})
	s := NewSupervisor(dial, noop, NewBackoff(0, 0), zerolog.Nop())
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when the queue is unreachable")
	}
	if s.Ready() {
		t.Error("Ready() = true after failed Connect")
	}
}
