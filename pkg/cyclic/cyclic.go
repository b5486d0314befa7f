/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cyclic builds the multiplicative group used to enumerate the
// target space as a pseudo-random permutation. For a space of size N it
// selects the smallest prime p >= max(N,2)+1 and a primitive root g of
// (Z/pZ)*; powers of g walk every value in [1, p-1] exactly once, and
// values above N are skipped as holes. Both p and g are deterministic
// functions of N, so every shard on every machine derives the same group.
package cyclic

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"
)

// MaxN bounds the target space so 64-bit modular arithmetic stays exact.
const MaxN = uint64(1) << 48

var (
	ErrSpaceTooLarge = errors.New("target space exceeds 2^48")
	ErrEmptySpace    = errors.New("target space is empty")
)

// Group is an immutable description of the permutation group.
type Group struct {
	N         uint64 // size of the covered space, values 1..N
	Prime     uint64 // smallest prime >= max(N,2)+1
	Generator uint64 // primitive root of (Z/pZ)*

	factors []uint64 // distinct prime factors of Prime-1
}

// NewGroup derives the group for a space of n elements.
func NewGroup(n uint64) (*Group, error) {
	if n == 0 {
		return nil, ErrEmptySpace
	}

	if n > MaxN {
		return nil, fmt.Errorf("%w: %d", ErrSpaceTooLarge, n)
	}

	min := n
	if min < 2 {
		min = 2
	}

	p := nextPrime(min + 1)

	g := &Group{
		N:       n,
		Prime:   p,
		factors: distinctPrimeFactors(p - 1),
	}
	g.Generator = g.findPrimitiveRoot()

	return g, nil
}

// nextPrime returns the smallest prime >= v. ProbablyPrime is exact for
// inputs below 2^64.
func nextPrime(v uint64) uint64 {
	for {
		if new(big.Int).SetUint64(v).ProbablyPrime(0) {
			return v
		}

		v++
	}
}

// distinctPrimeFactors trial-divides v, which is at most 2^48+epsilon, so
// the loop is bounded by 2^24 iterations and runs once at startup.
func distinctPrimeFactors(v uint64) []uint64 {
	var factors []uint64

	for d := uint64(2); d*d <= v; d++ {
		if v%d != 0 {
			continue
		}

		factors = append(factors, d)

		for v%d == 0 {
			v /= d
		}
	}

	if v > 1 {
		factors = append(factors, v)
	}

	return factors
}

// findPrimitiveRoot tests ascending candidates; g is primitive iff
// g^((p-1)/q) != 1 for every prime factor q of p-1. Candidate order is
// fixed so all shards agree.
func (g *Group) findPrimitiveRoot() uint64 {
	order := g.Prime - 1

	for candidate := uint64(2); ; candidate++ {
		if g.isPrimitiveRoot(candidate, order) {
			return candidate
		}
	}
}

func (g *Group) isPrimitiveRoot(candidate, order uint64) bool {
	for _, q := range g.factors {
		if g.PowMod(candidate, order/q) == 1 {
			return false
		}
	}

	return true
}

// MulMod returns a*b mod Prime using a 128-bit intermediate.
func (g *Group) MulMod(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi, lo, g.Prime)

	return rem
}

// PowMod returns base^exp mod Prime by square and multiply.
func (g *Group) PowMod(base, exp uint64) uint64 {
	base %= g.Prime
	result := uint64(1)

	for exp > 0 {
		if exp&1 == 1 {
			result = g.MulMod(result, base)
		}

		base = g.MulMod(base, base)
		exp >>= 1
	}

	return result
}

// Order returns the group order p-1, which is also the iterator period.
func (g *Group) Order() uint64 { return g.Prime - 1 }
