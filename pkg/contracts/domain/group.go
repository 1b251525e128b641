package domain

// VariableGroup declares one cross-survey imputation: a named set of
// target variables imputed together from one source survey into one or
// more target surveys. Predictor names must already exist (raw or
// previously imputed) on every target survey before the group runs; the
// pipeline verifies this before training.
type VariableGroup struct {
	Name         string   `json:"name" yaml:"name" validate:"required"`
	SourceSurvey string   `json:"source_survey" yaml:"source_survey" validate:"required"`
	SourceEntity string   `json:"source_entity" yaml:"source_entity" validate:"required"`
	TargetSurveys []string `json:"target_surveys" yaml:"target_surveys" validate:"required,min=1"`
	TargetEntity string   `json:"target_entity" yaml:"target_entity" validate:"required"`
	Predictors   []string `json:"predictors" yaml:"predictors" validate:"required,min=1"`
	Outputs      []string `json:"outputs" yaml:"outputs" validate:"required,min=1"`
	// NonNegative lists outputs clipped to zero from below after sampling
	// (monetary amounts where negative noise is not meaningful).
	NonNegative []string `json:"non_negative,omitempty" yaml:"non_negative"`
}

// ProducesOutput reports whether the group writes the named variable
func (g VariableGroup) ProducesOutput(name string) bool {
	for _, out := range g.Outputs {
		if out == name {
			return true
		}
	}
	return false
}

// DefaultVariableGroups returns the standard six-group enhancement
// sequence: wealth and vehicles from the wealth survey, consumption and
// fuel spending from the expenditure survey, VAT expenditure rates from
// the taxes-and-benefits survey, detailed income components from the
// administrative income sample, then salary sacrifice and student loan
// balances which condition on imputed income and wealth.
func DefaultVariableGroups() []VariableGroup {
	return []VariableGroup{
		{
			Name:          "wealth",
			SourceSurvey:  "was",
			SourceEntity:  "household",
			TargetSurveys: []string{"frs"},
			TargetEntity:  "household",
			Predictors:    []string{"num_adults", "num_children", "region", "household_net_income"},
			Outputs:       []string{"corporate_wealth", "land_value", "main_residence_value", "other_residential_property_value", "non_residential_property_value", "num_vehicles"},
			NonNegative:   []string{"corporate_wealth", "land_value", "main_residence_value", "other_residential_property_value", "non_residential_property_value", "num_vehicles"},
		},
		{
			Name:          "consumption",
			SourceSurvey:  "lcfs",
			SourceEntity:  "household",
			TargetSurveys: []string{"frs"},
			TargetEntity:  "household",
			Predictors:    []string{"num_adults", "num_children", "region", "household_net_income", "num_vehicles"},
			Outputs:       []string{"food_and_non_alcoholic_beverages_consumption", "alcohol_and_tobacco_consumption", "clothing_and_footwear_consumption", "fuel_spending"},
			NonNegative:   []string{"food_and_non_alcoholic_beverages_consumption", "alcohol_and_tobacco_consumption", "clothing_and_footwear_consumption", "fuel_spending"},
		},
		{
			Name:          "vat",
			SourceSurvey:  "etb",
			SourceEntity:  "household",
			TargetSurveys: []string{"frs"},
			TargetEntity:  "household",
			Predictors:    []string{"num_adults", "num_children", "household_net_income"},
			Outputs:       []string{"full_rate_vat_expenditure_rate"},
			NonNegative:   []string{"full_rate_vat_expenditure_rate"},
		},
		{
			Name:          "income",
			SourceSurvey:  "spi",
			SourceEntity:  "person",
			TargetSurveys: []string{"frs"},
			TargetEntity:  "person",
			Predictors:    []string{"age", "gender", "region"},
			Outputs:       []string{"employment_income", "self_employment_income", "savings_interest_income", "dividend_income", "private_pension_income", "property_income"},
			NonNegative:   []string{"employment_income", "self_employment_income", "savings_interest_income", "dividend_income", "private_pension_income", "property_income"},
		},
		{
			Name:          "salary_sacrifice",
			SourceSurvey:  "frs",
			SourceEntity:  "person",
			TargetSurveys: []string{"frs"},
			TargetEntity:  "person",
			Predictors:    []string{"age", "employment_income"},
			Outputs:       []string{"salary_sacrifice_contribution"},
			NonNegative:   []string{"salary_sacrifice_contribution"},
		},
		{
			Name:          "student_loans",
			SourceSurvey:  "was",
			SourceEntity:  "person",
			TargetSurveys: []string{"frs"},
			TargetEntity:  "person",
			Predictors:    []string{"age", "employment_income"},
			Outputs:       []string{"student_loan_balance"},
			NonNegative:   []string{"student_loan_balance"},
		},
	}
}
