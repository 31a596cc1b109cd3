package cost

import (
	"fmt"
	"sort"
	"time"
)

// Trends extrapolates the current month linearly from its daily average.
type Trends struct {
	DailyAverage     float64 `json:"daily_average"`
	ProjectedMonthly float64 `json:"projected_monthly"`
}

// ModelUsage totals the ledger for one model.
type ModelUsage struct {
	Model    string  `json:"model"`
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// Report summarizes the ledger for operators.
type Report struct {
	GeneratedAt  time.Time    `json:"generated_at"`
	TotalCost    float64      `json:"total_cost"`
	MonthlySpend float64      `json:"monthly_spend"`
	TotalTokens  int          `json:"total_tokens"`
	Requests     int          `json:"requests"`
	Budget       BudgetStatus `json:"budget"`
	Trends       Trends       `json:"trends"`
	ByModel      []ModelUsage `json:"by_model"`
	Suggestions  []string     `json:"suggestions"`
}

// GenerateCostReport totals the ledger and derives rule-based suggestions.
func (o *Optimizer) GenerateCostReport() Report {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	status := o.statusLocked()
	r := Report{
		GeneratedAt:  now,
		MonthlySpend: status.Spent,
		Budget:       status,
	}

	byModel := make(map[string]*ModelUsage)
	for _, e := range o.ledger {
		r.TotalCost += e.Cost
		r.TotalTokens += e.TotalTokens
		r.Requests++

		name := e.Model
		if name == "" {
			name = "default"
		}
		mu, ok := byModel[name]
		if !ok {
			mu = &ModelUsage{Model: name}
			byModel[name] = mu
		}
		mu.Requests++
		mu.Tokens += e.TotalTokens
		mu.Cost += e.Cost
	}
	for _, mu := range byModel {
		r.ByModel = append(r.ByModel, *mu)
	}
	sort.Slice(r.ByModel, func(i, j int) bool {
		if r.ByModel[i].Cost != r.ByModel[j].Cost {
			return r.ByModel[i].Cost > r.ByModel[j].Cost
		}
		return r.ByModel[i].Model < r.ByModel[j].Model
	})

	r.Trends = trends(now, status.Spent)
	r.Suggestions = o.suggest(r)
	return r
}

func trends(now time.Time, monthlySpend float64) Trends {
	daysElapsed := now.Day()
	daysInMonth := monthStart(now).AddDate(0, 1, -1).Day()
	daily := monthlySpend / float64(daysElapsed)
	return Trends{
		DailyAverage:     daily,
		ProjectedMonthly: daily * float64(daysInMonth),
	}
}

func (o *Optimizer) suggest(r Report) []string {
	suggestions := []string{}

	if r.Budget.Limit > 0 && r.Trends.ProjectedMonthly > r.Budget.Limit {
		suggestions = append(suggestions, fmt.Sprintf(
			"Projected monthly spend $%.2f exceeds the $%.2f budget: enable caching so repeated failures reuse earlier repairs",
			r.Trends.ProjectedMonthly, r.Budget.Limit))
	}
	if r.Requests > 0 && o.cfg.LargePromptTokens > 0 {
		avg := r.TotalTokens / r.Requests
		if avg > o.cfg.LargePromptTokens {
			suggestions = append(suggestions, fmt.Sprintf(
				"Average call uses %d tokens: lower the token budget per prompt", avg))
		}
	}
	if r.Budget.AtWarningThreshold {
		suggestions = append(suggestions, fmt.Sprintf(
			"Budget usage at %.1f%%: switch low-priority tests to the rule-based strategy", r.Budget.PercentUsed))
	}
	if len(r.ByModel) > 1 {
		suggestions = append(suggestions, fmt.Sprintf(
			"Model %s accounts for the largest share of spend: consider a cheaper model for simple failures", r.ByModel[0].Model))
	}
	return suggestions
}
