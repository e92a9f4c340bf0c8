package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

const accountColumns = `alias, account_number, vendor, status, account_type, risk_grade, emphasis, portfolio_id, allow_minus_gross`

// AccountRepository reads accounts and writes status changes. Accounts are
// provisioned elsewhere; this engine never creates or deletes them.
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log.With().Str("repo", "account").Logger(),
	}
}

// Get retrieves an account by alias.
func (r *AccountRepository) Get(alias string) (*domain.Account, error) {
	row := r.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE alias = ?`, alias)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s not found", alias)
	}
	return a, err
}

// ListByStatus returns accounts in any of the given statuses.
func (r *AccountRepository) ListByStatus(statuses ...domain.AccountStatus) ([]domain.Account, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := r.db.Query(`SELECT `+accountColumns+` FROM accounts WHERE status IN (`+placeholders+`) ORDER BY alias`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// UpdateStatus persists an account status change.
func (r *AccountRepository) UpdateStatus(alias string, status domain.AccountStatus) error {
	res, err := r.db.Exec(`UPDATE accounts SET status = ?, updated_at = ? WHERE alias = ?`,
		string(status), time.Now().Unix(), alias)
	if err != nil {
		return fmt.Errorf("failed to update account %s status: %w", alias, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for account %s: %w", alias, err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s not found", alias)
	}

	r.log.Info().
		Str("account", alias).
		Str("status", string(status)).
		Msg("Account status updated")
	return nil
}

func scanAccount(row scanner) (*domain.Account, error) {
	var (
		a          domain.Account
		status     string
		allowMinus int
	)
	err := row.Scan(&a.Alias, &a.AccountNumber, &a.Vendor, &status, &a.AccountType,
		&a.RiskGrade, &a.Emphasis, &a.PortfolioID, &allowMinus)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Status = domain.AccountStatus(status)
	a.AllowMinusGross = allowMinus != 0
	return &a, nil
}
