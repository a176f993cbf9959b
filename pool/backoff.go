// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
)

const jitterUnits = 100

// backoff is a truncated exponential delay with jitter between lookup attempts.
type backoff struct {
	base time.Duration
	max  time.Duration
}

// after returns base * 2^attempt plus jitter in [0,base), truncated to max.
func (b backoff) after(attempt uint) time.Duration {
	if attempt > 30 {
		return b.max
	}

	d := b.base<<attempt + jitter(0, b.base)
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

// delayType adapts the backoff to retry-go, which counts attempts from zero.
func (b backoff) delayType(n uint, _ error, _ *retry.Config) time.Duration {
	return b.after(n)
}

// jitter returns a random duration between min and max in hundredths of the period.
func jitter(min, max time.Duration) time.Duration {
	if max < min {
		return 0
	}
	if period := max - min; period > jitterUnits {
		return min + time.Duration(rand.Intn(jitterUnits))*(period/jitterUnits)
	}
	return min
}
