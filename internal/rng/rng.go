// Package rng hands out reproducible random streams. Each Monte Carlo trial
// or price path owns one stream keyed by (seed, index), so results do not
// depend on scheduling.
package rng

import "math/rand/v2"

// New returns the stream for index under seed.
func New(seed, index uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, splitmix(index)))
}

// splitmix spreads adjacent indices across the PCG sequence space.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
