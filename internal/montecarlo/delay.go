package montecarlo

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"royalty-risk/internal/config"
)

// Category is one deferred reserve category. Weight is its share of the
// deferred return contribution, so weights across a model sum to 1.
type Category struct {
	Name        string
	Weight      float64
	Probability float64
	MaxYears    float64
}

// DelayModel draws per-category development delays and collapses them into
// one scalar delay.
type DelayModel struct {
	Categories []Category
}

// DelayModelFromConfig keeps the non-protected reserve categories and
// normalises their return shares.
func DelayModelFromConfig(cfg *config.Config) DelayModel {
	total := 0.0
	for _, r := range cfg.Reserves {
		if !r.Protected {
			total += r.ReturnShare
		}
	}

	var m DelayModel
	for _, r := range cfg.Reserves {
		if r.Protected || total <= 0 {
			continue
		}
		m.Categories = append(m.Categories, Category{
			Name:        r.Name,
			Weight:      r.ReturnShare / total,
			Probability: r.DelayProbability,
			MaxYears:    r.MaxDelayYears,
		})
	}
	return m
}

// Draw fills perCategory (len(Categories)) and returns the weighted delay.
// Every category consumes one Bernoulli and one uniform draw whether or not
// it is delayed, keeping the stream layout fixed per trial.
func (m DelayModel) Draw(src rand.Source, perCategory []float64) float64 {
	delay := 0.0
	for i, c := range m.Categories {
		hit := distuv.Bernoulli{P: c.Probability, Src: src}.Rand()
		magnitude := distuv.Uniform{Min: 0, Max: c.MaxYears, Src: src}.Rand()
		d := hit * magnitude
		if i < len(perCategory) {
			perCategory[i] = d
		}
		delay += c.Weight * d
	}
	return delay
}
