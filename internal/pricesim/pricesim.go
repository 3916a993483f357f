// Package pricesim simulates correlated, mean-reverting commodity price
// factors for oil, gas and NGL.
package pricesim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"royalty-risk/internal/config"
	"royalty-risk/internal/rng"
)

// ErrNotPositiveDefinite is returned when the correlation matrix has no
// Cholesky factor.
var ErrNotPositiveDefinite = errors.New("pricesim: correlation matrix is not positive definite")

// Commodity indexes the three priced products.
type Commodity int

const (
	Oil Commodity = iota
	Gas
	NGL
	numCommodities
)

func (c Commodity) String() string {
	switch c {
	case Oil:
		return "oil"
	case Gas:
		return "gas"
	case NGL:
		return "ngl"
	default:
		return fmt.Sprintf("commodity(%d)", int(c))
	}
}

// Commodities lists every commodity in matrix order.
var Commodities = [numCommodities]Commodity{Oil, Gas, NGL}

// Process is one discrete Ornstein-Uhlenbeck price factor.
type Process struct {
	Mu      float64
	Theta   float64
	Sigma   float64
	Floor   float64
	Initial float64
}

// Options configure a Simulator.
type Options struct {
	Processes   [numCommodities]Process
	Correlation [numCommodities][numCommodities]float64
	Mix         [numCommodities]float64
	TimeStep    float64
}

// OptionsFromConfig maps runtime configuration onto simulator options.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Prices
	opts := Options{
		Processes: [numCommodities]Process{
			processFromConfig(p.Oil),
			processFromConfig(p.Gas),
			processFromConfig(p.NGL),
		},
		Mix:      [numCommodities]float64{p.Mix.Oil, p.Mix.Gas, p.Mix.NGL},
		TimeStep: p.TimeStep,
	}
	for i := range opts.Correlation {
		if i < len(p.Correlation) {
			copy(opts.Correlation[i][:], p.Correlation[i])
		}
	}
	return opts
}

func processFromConfig(c config.CommodityConfig) Process {
	return Process{Mu: c.Mu, Theta: c.Theta, Sigma: c.Sigma, Floor: c.Floor, Initial: c.Initial}
}

// PricePath holds yearly price factors for one trial; 1.0 is strip price.
// Factors and Blended share the same length.
type PricePath struct {
	Factors [numCommodities][]float64
	Blended []float64
}

// Years returns the path length.
func (p PricePath) Years() int {
	return len(p.Blended)
}

// AverageBlended is the mean blended factor across the path.
func (p PricePath) AverageBlended() float64 {
	if len(p.Blended) == 0 {
		return 0
	}
	return floats.Sum(p.Blended) / float64(len(p.Blended))
}

// Average is the mean factor of one commodity.
func (p PricePath) Average(c Commodity) float64 {
	f := p.Factors[c]
	if len(f) == 0 {
		return 0
	}
	return floats.Sum(f) / float64(len(f))
}

// Final returns the last blended factor, or 0 for an empty path.
func (p PricePath) Final() float64 {
	if len(p.Blended) == 0 {
		return 0
	}
	return p.Blended[len(p.Blended)-1]
}

// Constant is a deterministic path with every factor equal to m.
func Constant(m float64, years int) PricePath {
	var p PricePath
	for i := range p.Factors {
		p.Factors[i] = make([]float64, years)
		for t := range p.Factors[i] {
			p.Factors[i][t] = m
		}
	}
	p.Blended = make([]float64, years)
	for t := range p.Blended {
		p.Blended[t] = m
	}
	return p
}

// Simulator draws price paths. It holds only the precomputed factor of the
// correlation matrix and is safe for concurrent use.
type Simulator struct {
	opts  Options
	chol  [numCommodities][numCommodities]float64
	sqrtT float64
}

// New factorizes the correlation matrix once.
func New(opts Options) (*Simulator, error) {
	if opts.TimeStep <= 0 {
		return nil, fmt.Errorf("pricesim: time step must be positive, got %v", opts.TimeStep)
	}
	for _, c := range Commodities {
		if opts.Processes[c].Floor <= 0 {
			return nil, fmt.Errorf("pricesim: %s floor must be positive", c)
		}
	}

	data := make([]float64, 0, numCommodities*numCommodities)
	for _, row := range opts.Correlation {
		data = append(data, row[:]...)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(mat.NewSymDense(int(numCommodities), data)); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	s := &Simulator{opts: opts, sqrtT: math.Sqrt(opts.TimeStep)}
	for i := range s.chol {
		for j := 0; j <= i; j++ {
			s.chol[i][j] = lower.At(i, j)
		}
	}
	return s, nil
}

// Options returns the simulator configuration.
func (s *Simulator) Options() Options {
	return s.opts
}

// SimulatePath draws one path of the given length from r. Each year consumes
// three standard normal draws in oil, gas, ngl order.
func (s *Simulator) SimulatePath(r *rand.Rand, years int) PricePath {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: r}

	var path PricePath
	var level [numCommodities]float64
	for _, c := range Commodities {
		path.Factors[c] = make([]float64, years)
		level[c] = s.opts.Processes[c].Initial
	}
	path.Blended = make([]float64, years)

	var z, eps [numCommodities]float64
	dt := s.opts.TimeStep
	for t := 0; t < years; t++ {
		for i := range z {
			z[i] = normal.Rand()
		}
		for i := range eps {
			eps[i] = 0
			for j := 0; j <= i; j++ {
				eps[i] += s.chol[i][j] * z[j]
			}
		}

		blended := 0.0
		for _, c := range Commodities {
			p := s.opts.Processes[c]
			next := level[c] + p.Theta*(p.Mu-level[c])*dt + p.Sigma*s.sqrtT*eps[c]
			level[c] = math.Max(p.Floor, next)
			path.Factors[c][t] = level[c]
			blended += s.opts.Mix[c] * level[c]
		}
		path.Blended[t] = blended
	}
	return path
}

// SimulatePrices draws numPaths independent paths; path i uses the stream
// rng.New(seed, i), so any path can be regenerated on its own.
func (s *Simulator) SimulatePrices(numPaths, numYears int, seed uint64) []PricePath {
	paths := make([]PricePath, numPaths)
	for i := range paths {
		paths[i] = s.SimulatePath(rng.New(seed, uint64(i)), numYears)
	}
	return paths
}
