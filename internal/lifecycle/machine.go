// Package lifecycle applies status transitions to queues and cascades them
// to the queue's order legs.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Manager moves a queue through its lifecycle. All status writes go
// through here so the transition table is enforced in exactly one place.
type Manager struct {
	queues    domain.QueueRepository
	orderLogs domain.OrderLogRepository
	log       zerolog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(queues domain.QueueRepository, orderLogs domain.OrderLogRepository, log zerolog.Logger) *Manager {
	return &Manager{
		queues:    queues,
		orderLogs: orderLogs,
		log:       log.With().Str("service", "lifecycle").Logger(),
	}
}

// TransitionQueue validates and persists a queue status change. Entering a
// terminal status from a different status cascades: every order leg still
// in the queue's prior status moves along with it, and a completed
// transition stamps concluded_at on the cascaded legs. Non-terminal
// transitions touch the queue only.
//
// An invalid transition returns domain.ErrInvalidTransition without
// touching storage; callers treat it as a defect.
func (m *Manager) TransitionQueue(queue *domain.Queue, target domain.Status, note string) error {
	prior := queue.Status
	if err := domain.Transition(prior, target); err != nil {
		return fmt.Errorf("queue %s: %w", queue.ID, err)
	}

	if err := m.queues.UpdateStatus(queue.ID, target, note); err != nil {
		return fmt.Errorf("failed to persist queue status: %w", err)
	}
	queue.Status = target
	queue.Note = note

	var moved int64
	if target.IsTerminal() && prior != target {
		var concludedAt *time.Time
		if target == domain.StatusCompleted {
			now := time.Now()
			concludedAt = &now
		}

		var err error
		moved, err = m.orderLogs.BulkUpdateStatus(queue.ID, prior, target, concludedAt)
		if err != nil {
			return fmt.Errorf("failed to cascade order log status: %w", err)
		}
	}

	m.log.Info().
		Str("queue", queue.ID).
		Str("from", string(prior)).
		Str("to", string(target)).
		Int64("cascaded_legs", moved).
		Msg("Queue transitioned")

	return nil
}
