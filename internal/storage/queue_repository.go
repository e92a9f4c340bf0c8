package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// queueColumns avoids SELECT * so schema changes break loudly.
// Column order must match scanQueue.
const queueColumns = `id, account_alias, portfolio_id, mode, status, basket, note, created_at, updated_at`

// QueueRepository handles queue database operations.
type QueueRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// Compile-time check against the domain interface.
var _ domain.QueueRepository = (*QueueRepository)(nil)

// NewQueueRepository creates a new queue repository.
func NewQueueRepository(db *sql.DB, log zerolog.Logger) *QueueRepository {
	return &QueueRepository{
		db:  db,
		log: log.With().Str("repo", "queue").Logger(),
	}
}

// Create inserts a new queue row. The order basket is stored as a msgpack
// blob; it is never queried by symbol, only loaded with its queue.
func (r *QueueRepository) Create(q *domain.Queue) error {
	basket, err := msgpack.Marshal(q.Basket)
	if err != nil {
		return fmt.Errorf("failed to encode order basket: %w", err)
	}

	now := time.Now()
	q.CreatedAt = now
	q.UpdatedAt = now

	_, err = r.db.Exec(`
		INSERT INTO queues (id, account_alias, portfolio_id, mode, status, basket, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.AccountAlias, q.PortfolioID, string(q.Mode), string(q.Status),
		basket, q.Note, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue %s: %w", q.ID, err)
	}

	r.log.Debug().
		Str("queue_id", q.ID).
		Str("account", q.AccountAlias).
		Str("mode", string(q.Mode)).
		Msg("Queue created")
	return nil
}

// Get retrieves a queue by ID.
func (r *QueueRepository) Get(id string) (*domain.Queue, error) {
	row := r.db.QueryRow(`SELECT `+queueColumns+` FROM queues WHERE id = ?`, id)
	return scanQueue(row)
}

// GetActiveByAccount returns the account's single non-terminal queue, or
// nil when none exists. A queue has at most one non-terminal status at a
// time, so at most one row can match.
func (r *QueueRepository) GetActiveByAccount(alias string) (*domain.Queue, error) {
	row := r.db.QueryRow(`
		SELECT `+queueColumns+` FROM queues
		WHERE account_alias = ? AND status IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		alias, string(domain.StatusPending), string(domain.StatusOnHold), string(domain.StatusProcessing),
	)
	q, err := scanQueue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return q, err
}

// UpdateStatus persists a status change and its note in one statement, so
// the pair is atomic.
func (r *QueueRepository) UpdateStatus(id string, status domain.Status, note string) error {
	res, err := r.db.Exec(`UPDATE queues SET status = ?, note = ?, updated_at = ? WHERE id = ?`,
		string(status), note, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update queue %s status: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for queue %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("queue %s not found", id)
	}
	return nil
}

// scanner abstracts sql.Row / sql.Rows for scanQueue.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanQueue(row scanner) (*domain.Queue, error) {
	var (
		q         domain.Queue
		mode      string
		status    string
		basket    []byte
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&q.ID, &q.AccountAlias, &q.PortfolioID, &mode, &status, &basket, &q.Note, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	q.Mode = domain.OrderMode(mode)
	q.Status = domain.Status(status)
	q.CreatedAt = time.Unix(createdAt, 0)
	q.UpdatedAt = time.Unix(updatedAt, 0)

	if len(basket) > 0 {
		if err := msgpack.Unmarshal(basket, &q.Basket); err != nil {
			return nil, fmt.Errorf("failed to decode order basket for queue %s: %w", q.ID, err)
		}
	}
	return &q, nil
}
