package domain

type PricingRule struct {
	ID                  string
	Name                string
	Description         string
	DeviationMax        *float64
	SurchargePercentage int
}
