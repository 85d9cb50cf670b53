package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/samsa/market-engine/internal/lmsr"
	"github.com/samsa/market-engine/internal/model"
	"github.com/samsa/market-engine/internal/pricing"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Money is stored as NUMERIC; LMSR quantities as DOUBLE PRECISION.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, title, description, category, status,
	close_date, resolution_date, outcomes, total_volume::TEXT,
	image_url, search_keywords, COALESCE(winning_outcome_id, ''),
	liquidity, lmsr_probability, created_at`

const predictionColumns = `id, market_id, outcome_id, user_id,
	stake_amount::TEXT, odds_at_prediction,
	potential_return::TEXT, potential_profit::TEXT, potential_refund::TEXT,
	status, actual_return::TEXT, breakdown, settlement, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, description, category, status,
		        close_date, resolution_date, outcomes, total_volume,
		        image_url, search_keywords, winning_outcome_id,
		        liquidity, lmsr_probability, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10, $11, NULLIF($12, ''), $13, $14, $15)`,
		m.ID, m.Title, m.Description, m.Category, m.Status,
		m.CloseDate, m.ResolutionDate, outcomes, m.TotalVolume.String(),
		m.ImageURL, m.SearchKeywords, m.WinningOutcomeID,
		m.Liquidity, m.LMSRProbability, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = $2, resolution_date = $3, outcomes = $4,
		     total_volume = $5::NUMERIC, winning_outcome_id = NULLIF($6, ''),
		     lmsr_probability = $7
		 WHERE id = $1`,
		m.ID, m.Status, m.ResolutionDate, outcomes,
		m.TotalVolume.String(), m.WinningOutcomeID, m.LMSRProbability,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	breakdown, settlement, err := encodePredictionDetails(p)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO predictions (id, market_id, outcome_id, user_id,
		        stake_amount, odds_at_prediction,
		        potential_return, potential_profit, potential_refund,
		        status, actual_return, breakdown, settlement, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10, $11::NUMERIC, $12, $13, $14)`,
		p.ID, p.MarketID, p.OutcomeID, p.UserID,
		p.StakeAmount.String(), p.OddsAtPrediction,
		p.PotentialReturn.String(), p.PotentialProfit.String(), p.PotentialRefund.String(),
		p.Status, p.ActualReturn.String(), breakdown, settlement, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListPredictions(ctx context.Context, marketID string) ([]model.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE $1 = '' OR market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPredictions(rows)
}

func (s *PostgresStore) ListPredictionsByUser(ctx context.Context, userID string) ([]model.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPredictions(rows)
}

func (s *PostgresStore) UpdatePrediction(ctx context.Context, p *model.Prediction) error {
	_, settlement, err := encodePredictionDetails(p)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions
		 SET status = $2, actual_return = $3::NUMERIC, settlement = $4
		 WHERE id = $1`,
		p.ID, p.Status, p.ActualReturn.String(), settlement,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prediction %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeletePrediction(ctx context.Context, p *model.Prediction) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM predictions WHERE id = $1`, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("prediction %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SaveMarketState(ctx context.Context, marketID string, st lmsr.State) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lmsr_states (market_id, b, q_yes, q_no, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (market_id) DO UPDATE
		 SET b = EXCLUDED.b, q_yes = EXCLUDED.q_yes, q_no = EXCLUDED.q_no, updated_at = NOW()`,
		marketID, st.B, st.QYes, st.QNo,
	)
	return err
}

func (s *PostgresStore) LoadMarketStates(ctx context.Context) (map[string]lmsr.State, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_id, b, q_yes, q_no FROM lmsr_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]lmsr.State)
	for rows.Next() {
		var id string
		var st lmsr.State
		if err := rows.Scan(&id, &st.B, &st.QYes, &st.QNo); err != nil {
			return nil, err
		}
		states[id] = st
	}
	return states, rows.Err()
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var outcomes []byte
	var volume string

	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Status,
		&m.CloseDate, &m.ResolutionDate, &outcomes, &volume,
		&m.ImageURL, &m.SearchKeywords, &m.WinningOutcomeID,
		&m.Liquidity, &m.LMSRProbability, &m.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(outcomes, &m.Outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes of %s: %w", m.ID, err)
	}
	var err error
	if m.TotalVolume, err = parseMoney(m.ID, "total_volume", volume); err != nil {
		return nil, err
	}
	return &m, nil
}

// parseMoney decodes a NUMERIC column read back as text.
func parseMoney(id, column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s of %s: %w", column, id, err)
	}
	return d, nil
}

func scanPredictions(rows pgx.Rows) ([]model.Prediction, error) {
	var out []model.Prediction
	for rows.Next() {
		var p model.Prediction
		var stake, potReturn, potProfit, potRefund, actual string
		var breakdown, settlement []byte

		if err := rows.Scan(&p.ID, &p.MarketID, &p.OutcomeID, &p.UserID,
			&stake, &p.OddsAtPrediction,
			&potReturn, &potProfit, &potRefund,
			&p.Status, &actual, &breakdown, &settlement, &p.CreatedAt); err != nil {
			return nil, err
		}

		for _, c := range []struct {
			dst    *decimal.Decimal
			column string
			raw    string
		}{
			{&p.StakeAmount, "stake_amount", stake},
			{&p.PotentialReturn, "potential_return", potReturn},
			{&p.PotentialProfit, "potential_profit", potProfit},
			{&p.PotentialRefund, "potential_refund", potRefund},
			{&p.ActualReturn, "actual_return", actual},
		} {
			d, err := parseMoney(p.ID, c.column, c.raw)
			if err != nil {
				return nil, err
			}
			*c.dst = d
		}

		if len(breakdown) > 0 {
			var bd pricing.BreakdownView
			if err := json.Unmarshal(breakdown, &bd); err != nil {
				return nil, fmt.Errorf("decode breakdown of %s: %w", p.ID, err)
			}
			p.Breakdown = &bd
		}
		if len(settlement) > 0 {
			var sv pricing.SettlementView
			if err := json.Unmarshal(settlement, &sv); err != nil {
				return nil, fmt.Errorf("decode settlement of %s: %w", p.ID, err)
			}
			p.Settlement = &sv
		}

		out = append(out, p)
	}
	return out, rows.Err()
}

// encodePredictionDetails marshals the optional JSONB columns; nil
// pointers become SQL NULL.
func encodePredictionDetails(p *model.Prediction) (breakdown, settlement []byte, err error) {
	if p.Breakdown != nil {
		if breakdown, err = json.Marshal(p.Breakdown); err != nil {
			return nil, nil, fmt.Errorf("encode breakdown: %w", err)
		}
	}
	if p.Settlement != nil {
		if settlement, err = json.Marshal(p.Settlement); err != nil {
			return nil, nil, fmt.Errorf("encode settlement: %w", err)
		}
	}
	return breakdown, settlement, nil
}
