package capability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
)

const StatusPendingReview = "pending_review"

type Ticket struct {
	ID            string    `json:"id"`
	Cascade       string    `json:"cascade"`
	Tier          string    `json:"tier"`
	CorrelationID string    `json:"correlation_id"`
	Input         any       `json:"input"`
	Reasons       []string  `json:"reasons"`
	CreatedAt     time.Time `json:"created_at"`
}

// QueueEscalator parks the work as a review ticket and answers immediately, so the
// human tier succeeds with a pending status instead of blocking for a reviewer.
type QueueEscalator struct {
	mu      sync.Mutex
	pending []Ticket
	notify  func(Ticket)
}

// NewQueueEscalator returns an escalator; notify, when set, is called for every new ticket.
func NewQueueEscalator(notify func(Ticket)) *QueueEscalator {
	return &QueueEscalator{notify: notify}
}

func (q *QueueEscalator) Escalate(ctx context.Context, req cascade.EscalationRequest) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := Ticket{
		ID:            uuid.NewString(),
		Cascade:       req.Cascade,
		Tier:          req.Tier,
		CorrelationID: req.CorrelationID,
		Input:         req.Input,
		Reasons:       make([]string, 0, len(req.Reasons)),
		CreatedAt:     time.Now().UTC(),
	}
	for _, r := range req.Reasons {
		t.Reasons = append(t.Reasons, r.Error())
	}

	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	if q.notify != nil {
		q.notify(t)
	}

	return map[string]any{
		"status": StatusPendingReview,
		"ticket": t.ID,
	}, nil
}

func (q *QueueEscalator) Pending() []Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Ticket{}, q.pending...)
}

// Take removes a ticket from the queue once a reviewer picked it up.
func (q *QueueEscalator) Take(id string) (Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.pending {
		if t.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return t, true
		}
	}
	return Ticket{}, false
}
