package notify

import (
	"context"
	"encoding/json"
	"time"

	"tutortrack/internal/queue"
)

// MsgCheckout is the queue message type carrying a CheckoutJob.
const MsgCheckout = "checkout"

// CheckoutJob asks the worker to tell a parent their child left.
type CheckoutJob struct {
	RecordID     string    `json:"record_id"`
	AccountID    string    `json:"account_id"`
	StudentID    string    `json:"student_id"`
	StudentName  string    `json:"student_name"`
	CheckoutTime time.Time `json:"checkout_time"`
}

// Publisher hands notification jobs off for out-of-band delivery.
type Publisher interface {
	PublishCheckout(ctx context.Context, job CheckoutJob) error
}

// QueuePublisher publishes jobs onto the shared queue.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps a queue as a Publisher.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

// PublishCheckout enqueues the job as JSON.
func (p *QueuePublisher) PublishCheckout(ctx context.Context, job CheckoutJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: MsgCheckout, Body: body})
}

// DecodeCheckout parses a queue message body back into a job.
func DecodeCheckout(body []byte) (CheckoutJob, error) {
	var job CheckoutJob
	err := json.Unmarshal(body, &job)
	return job, err
}
