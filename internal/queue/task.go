package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRenew              = "renew"
	TypeCreateSubscription = "create_subscription"
)

// Task is one unit of renewal work. TargetID is a subscription id for renew
// tasks and an order id for create_subscription tasks.
type Task struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	TargetID uint      `json:"target_id"`
	IssuedAt time.Time `json:"issued_at"`
	// Force skips the due check, used for operator-initiated renewals.
	Force bool `json:"force,omitempty"`
}

func NewTask(typ string, targetID uint, force bool) Task {
	return Task{
		ID:       uuid.NewString(),
		Type:     typ,
		TargetID: targetID,
		IssuedAt: time.Now(),
		Force:    force,
	}
}

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Handler executes a dequeued task.
type Handler func(ctx context.Context, task Task) error
