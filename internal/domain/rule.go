package domain

import "time"

// CustomRuleConfig defines an operator-supplied rule that extends the
// built-in battery. The expression is CEL and must evaluate to bool; when it
// holds, the rule adds Contribution to the risk score under Label.
type CustomRuleConfig struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Expression  string  `json:"expression"`
	Label       string  `json:"label"`
	Contribution float64 `json:"contribution"`
	Enabled     bool    `json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
