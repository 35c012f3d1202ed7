// rand/rand.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package rand

import (
	"time"

	"github.com/MichaelTJones/pcg"
)

///////////////////////////////////////////////////////////////////////////
// Random numbers.

type Rand struct {
	r *pcg.PCG32
}

// Make returns a Rand seeded from the clock. Code that needs
// reproducibility should call Seed with a fixed value afterward.
func Make() *Rand {
	r := &Rand{r: pcg.NewPCG32()}
	r.Seed(time.Now().UnixNano())
	return r
}

func (r *Rand) Seed(s int64) {
	r.r.Seed(uint64(s), 0xda3e39cb94b95bdb)
}

func (r *Rand) Intn(n int) int {
	return int(r.r.Bounded(uint32(n)))
}

func (r *Rand) Int31n(n int32) int32 {
	return int32(r.r.Bounded(uint32(n)))
}

func (r *Rand) Float32() float32 {
	return float32(r.r.Random()) / (1<<32 - 1)
}

// Float32InRange returns a uniform sample in [low, high].
func (r *Rand) Float32InRange(low, high float32) float32 {
	return low + (high-low)*r.Float32()
}

func (r *Rand) Uint32() uint32 {
	return r.r.Random()
}

func (r *Rand) Bool() bool {
	return r.r.Random()&1 == 1
}

// SampleSlice uniformly randomly samples an element of a non-empty slice.
func SampleSlice[T any](r *Rand, slice []T) T {
	return slice[r.Intn(len(slice))]
}

func Sample[T any](r *Rand, t ...T) T {
	return t[r.Intn(len(t))]
}

// SampleFiltered uniformly randomly samples a slice, returning the index
// of the sampled item, using provided predicate function to filter the
// items that may be sampled.  An index of -1 is returned if the slice is
// empty or the predicate returns false for all items.
func SampleFiltered[T any](r *Rand, slice []T, pred func(T) bool) int {
	idx := -1
	candidates := 0
	for i, v := range slice {
		if pred(v) {
			candidates++
			p := float32(1) / float32(candidates)
			if r.Float32() < p {
				idx = i
			}
		}
	}
	return idx
}

// SampleWeighted randomly samples an element from the given slice with the
// probability of choosing each element proportional to the value returned
// by the provided callback.
func SampleWeighted[T any](r *Rand, slice []T, weight func(T) float32) int {
	// Weighted reservoir sampling...
	idx := -1
	sumWt := float32(0)
	for i, v := range slice {
		w := weight(v)
		if w <= 0 {
			continue
		}

		sumWt += w
		p := w / sumWt
		if r.Float32() < p {
			idx = i
		}
	}
	return idx
}

func ShuffleSlice[T any](slice []T, r *Rand) {
	for i := len(slice) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		slice[i], slice[j] = slice[j], slice[i]
	}
}
