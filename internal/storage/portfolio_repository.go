package storage

import (
	"database/sql"
	"fmt"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// PortfolioRepository reads model portfolios. Portfolios are authored
// elsewhere; the engine only consumes them.
type PortfolioRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ domain.PortfolioRepository = (*PortfolioRepository)(nil)

// NewPortfolioRepository creates a new portfolio repository.
func NewPortfolioRepository(db *sql.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// Get retrieves a model portfolio with its weights.
func (r *PortfolioRepository) Get(id int64) (*domain.ModelPortfolio, error) {
	p := &domain.ModelPortfolio{ID: id, Weights: make(map[string]float64)}

	err := r.db.QueryRow(`SELECT name FROM portfolios WHERE id = ?`, id).Scan(&p.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("portfolio %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %d: %w", id, err)
	}

	rows, err := r.db.Query(`SELECT symbol, weight FROM portfolio_weights WHERE portfolio_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %d weights: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			symbol string
			weight float64
		)
		if err := rows.Scan(&symbol, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio weight: %w", err)
		}
		p.Weights[symbol] = weight
	}
	return p, rows.Err()
}
