package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/roombooking/internal/domain"
)

type PricingRuleRepository interface {
	List(ctx context.Context) ([]domain.PricingRule, error)
}

type PGPricingRuleRepository struct {
	db DB
}

func NewPricingRuleRepository(db DB) PricingRuleRepository {
	return &PGPricingRuleRepository{db: db}
}

// List returns the rules ordered by bracket bound, the open bracket last.
func (r *PGPricingRuleRepository) List(ctx context.Context) ([]domain.PricingRule, error) {
	sql, args, err := psql.Select("id", "name", "description", "temperature_deviation_max", "surcharge_percentage").
		From("pricing_rules").
		OrderBy("temperature_deviation_max ASC NULLS LAST").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pricing rules query failed: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list pricing rules failed: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.PricingRule, 0)
	for rows.Next() {
		var rule domain.PricingRule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Description, &rule.DeviationMax, &rule.SurchargePercentage); err != nil {
			return nil, fmt.Errorf("scan pricing rule failed: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

var _ PricingRuleRepository = (*PGPricingRuleRepository)(nil)
