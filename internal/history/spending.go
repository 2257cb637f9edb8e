package history

import "sort"

// Spending aggregates the dollar cost of a history.
type Spending struct {
	Total   float64            `json:"total"`
	Cards   int                `json:"cards"`
	Events  int                `json:"events"`
	ByModel map[string]float64 `json:"by_model"`
	ByDate  map[string]float64 `json:"by_date"`
}

// Spending sums event costs overall, per model and per annotation date.
// Events without a model are counted under "unknown".
func (s *Store) Spending() Spending {
	sp := Spending{
		Cards:   len(s.events),
		ByModel: make(map[string]float64),
		ByDate:  make(map[string]float64),
	}
	for _, events := range s.events {
		for _, e := range events {
			c, _ := e.Cost()
			model := e.Model
			if model == "" {
				model = "unknown"
			}
			sp.Total += c
			sp.Events++
			sp.ByModel[model] += c
			if e.Date != "" {
				sp.ByDate[e.Date] += c
			}
		}
	}
	return sp
}

// Models returns the model names in sp sorted by descending cost.
func (sp Spending) Models() []string {
	models := make([]string, 0, len(sp.ByModel))
	for m := range sp.ByModel {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		if sp.ByModel[models[i]] != sp.ByModel[models[j]] {
			return sp.ByModel[models[i]] > sp.ByModel[models[j]]
		}
		return models[i] < models[j]
	})
	return models
}
