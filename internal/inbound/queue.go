// Package inbound moves normalized webhook events from the receiver to the
// conversation pipeline through a queue.
package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
)

// Queue is the transport between the webhook receiver and the workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is the queued payload.
type Job struct {
	ID         string                `json:"id"`
	Event      whatsapp.InboundEvent `json:"event"`
	EnqueuedAt time.Time             `json:"enqueuedAt"`
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("inbound: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("inbound: failed to decode job: %w", err)
	}
	return job, nil
}

// Publisher enqueues inbound events.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("inbound: queue cannot be nil")
	}
	return &Publisher{queue: queue}
}

// Publish enqueues ev and returns the job id.
func (p *Publisher) Publish(ctx context.Context, ev whatsapp.InboundEvent) (string, error) {
	job, body, err := encodeJob(Job{Event: ev})
	if err != nil {
		return "", err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", err
	}
	return job.ID, nil
}
