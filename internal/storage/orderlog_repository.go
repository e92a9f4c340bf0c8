package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

const orderLogColumns = `id, queue_id, symbol, leg_type, status, order_no, shares, order_price, market_price, concluded_at, error_msg, created_at`

// OrderLogRepository handles order-log database operations. One row per
// symbol per leg attempt; rows are immutable once terminal.
type OrderLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.OrderLogRepository = (*OrderLogRepository)(nil)

// NewOrderLogRepository creates a new order log repository.
func NewOrderLogRepository(db *sql.DB, log zerolog.Logger) *OrderLogRepository {
	return &OrderLogRepository{
		db:  db,
		log: log.With().Str("repo", "order_log").Logger(),
	}
}

// Create inserts a new order log row and backfills its ID.
func (r *OrderLogRepository) Create(l *domain.OrderLog) error {
	now := time.Now()
	l.CreatedAt = now

	var concludedAt interface{}
	if l.ConcludedAt != nil {
		concludedAt = l.ConcludedAt.Unix()
	}

	res, err := r.db.Exec(`
		INSERT INTO order_logs (queue_id, symbol, leg_type, status, order_no, shares, order_price, market_price, concluded_at, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.QueueID, l.Symbol, string(l.Type), string(l.Status), nullString(l.OrderNo),
		l.Shares, l.OrderPrice, l.MarketPrice, concludedAt, l.ErrorMsg, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order log for %s/%s: %w", l.QueueID, l.Symbol, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read order log id: %w", err)
	}
	l.ID = id
	return nil
}

// Update persists status, order number, conclusion time and error message
// for an existing row.
func (r *OrderLogRepository) Update(l *domain.OrderLog) error {
	var concludedAt interface{}
	if l.ConcludedAt != nil {
		concludedAt = l.ConcludedAt.Unix()
	}

	res, err := r.db.Exec(`
		UPDATE order_logs
		SET status = ?, order_no = ?, shares = ?, order_price = ?, market_price = ?, concluded_at = ?, error_msg = ?
		WHERE id = ?`,
		string(l.Status), nullString(l.OrderNo), l.Shares, l.OrderPrice, l.MarketPrice, concludedAt, l.ErrorMsg, l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order log %d: %w", l.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for order log %d: %w", l.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("order log %d not found", l.ID)
	}
	return nil
}

// GetByQueue returns all legs of a queue in insertion order.
func (r *OrderLogRepository) GetByQueue(queueID string) ([]domain.OrderLog, error) {
	rows, err := r.db.Query(`SELECT `+orderLogColumns+` FROM order_logs WHERE queue_id = ? ORDER BY id`, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order logs for queue %s: %w", queueID, err)
	}
	defer rows.Close()
	return scanOrderLogs(rows)
}

// GetByQueueAndStatus returns a queue's legs in one status.
func (r *OrderLogRepository) GetByQueueAndStatus(queueID string, status domain.Status) ([]domain.OrderLog, error) {
	rows, err := r.db.Query(`SELECT `+orderLogColumns+` FROM order_logs WHERE queue_id = ? AND status = ? ORDER BY id`,
		queueID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query order logs for queue %s: %w", queueID, err)
	}
	defer rows.Close()
	return scanOrderLogs(rows)
}

// BulkUpdateStatus moves every leg of a queue from one status to another,
// optionally stamping concluded_at. Used by the lifecycle cascade.
func (r *OrderLogRepository) BulkUpdateStatus(queueID string, from, to domain.Status, concludedAt *time.Time) (int64, error) {
	var stamp interface{}
	if concludedAt != nil {
		stamp = concludedAt.Unix()
	}

	res, err := r.db.Exec(`
		UPDATE order_logs
		SET status = ?, concluded_at = COALESCE(?, concluded_at)
		WHERE queue_id = ? AND status = ?`,
		string(to), stamp, queueID, string(from),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cascade order logs for queue %s: %w", queueID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cascaded row count for queue %s: %w", queueID, err)
	}
	return affected, nil
}

func scanOrderLogs(rows *sql.Rows) ([]domain.OrderLog, error) {
	var logs []domain.OrderLog
	for rows.Next() {
		var (
			l           domain.OrderLog
			legType     string
			status      string
			orderNo     sql.NullString
			concludedAt sql.NullInt64
			createdAt   int64
		)
		if err := rows.Scan(&l.ID, &l.QueueID, &l.Symbol, &legType, &status, &orderNo,
			&l.Shares, &l.OrderPrice, &l.MarketPrice, &concludedAt, &l.ErrorMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan order log: %w", err)
		}
		l.Type = domain.LegType(legType)
		l.Status = domain.Status(status)
		if orderNo.Valid {
			l.OrderNo = orderNo.String
		}
		if concludedAt.Valid {
			t := time.Unix(concludedAt.Int64, 0)
			l.ConcludedAt = &t
		}
		l.CreatedAt = time.Unix(createdAt, 0)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
