// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package pool provides a blocking, goroutine safe lookup API on top of the
// single threaded resolver.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	DefaultRetryDelay    = 250 * time.Millisecond
	DefaultMaxRetryDelay = 2 * time.Second
)

// ErrNoRecordTypes is returned for a lookup without record types.
var ErrNoRecordTypes = errors.New("no record types were requested")

// Runner executes functions on the resolver's goroutine.
type Runner interface {
	Submit(fn func()) types.Task
	Do(ctx context.Context, fn func()) error
}

// Resolver is the part of the resolver the pool drives.
type Resolver interface {
	Resolve(kind types.QueueKind, name string, rtypes types.RecordTypeSet, handler types.ResultHandler) types.ResolveID
	Cancel(id types.ResolveID)
	StopResolving()
}

// Options configures a Pool.
type Options struct {
	Logger *zap.Logger
	// QPS limits the rate of new lookups. Zero means no limit.
	QPS int
	// Retries is the number of additional attempts made by LookupAddrs.
	Retries       uint
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Pool serializes lookups from any goroutine onto the resolver.
type Pool struct {
	done     chan struct{}
	log      *zap.Logger
	runner   Runner
	resolver Resolver
	rate     ratelimit.Limiter
	retries  uint
	backoff  backoff
}

// New returns a Pool that runs the resolver through runner.
func New(runner Runner, resolver Resolver, opts Options) *Pool {
	rate := ratelimit.NewUnlimited()
	if opts.QPS > 0 {
		rate = ratelimit.New(opts.QPS)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = DefaultMaxRetryDelay
	}

	return &Pool{
		done:     make(chan struct{}),
		log:      opts.Logger.With(zap.String("component", "dns-pool")),
		runner:   runner,
		resolver: resolver,
		rate:     rate,
		retries:  opts.Retries,
		backoff:  backoff{base: opts.RetryDelay, max: opts.MaxRetryDelay},
	}
}

// Stop fails every outstanding lookup and rejects new ones.
func (p *Pool) Stop() {
	select {
	case <-p.done:
		return
	default:
	}
	close(p.done)

	_ = p.runner.Do(context.Background(), p.resolver.StopResolving)
}

func (p *Pool) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
	}
	return false
}

// Lookup resolves the record types of name and returns one result per type,
// ordered by record type. When ctx expires first the request is cancelled and
// the results received so far are returned with the context error.
func (p *Pool) Lookup(ctx context.Context, kind types.QueueKind, name string, rtypes types.RecordTypeSet) ([]types.Result, error) {
	num := rtypes.Len()
	if num == 0 {
		return nil, ErrNoRecordTypes
	}
	if p.stopped() {
		return nil, types.ErrStopped
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	_ = p.rate.Take()

	var id types.ResolveID
	// never blocks the resolver since each record type reports exactly once
	ch := make(chan types.Result, num)
	if err := p.runner.Do(ctx, func() {
		id = p.resolver.Resolve(kind, name, rtypes, func(_ types.ResolveID, res types.Result) {
			ch <- res
		})
	}); err != nil {
		// the request may have been made before ctx expired
		p.runner.Submit(func() {
			if id != 0 {
				p.resolver.Cancel(id)
			}
		})
		return nil, err
	}

	results := make([]types.Result, 0, num)
	for len(results) < num {
		select {
		case res := <-ch:
			results = append(results, res)
		case <-ctx.Done():
			p.runner.Submit(func() { p.resolver.Cancel(id) })
			return sortResults(results), ctx.Err()
		case <-p.done:
			return sortResults(results), types.ErrStopped
		}
	}
	return sortResults(results), nil
}

// LookupAddrs performs Lookup and retries while every result failed with a
// transient error. It returns the results of the last attempt.
func (p *Pool) LookupAddrs(ctx context.Context, kind types.QueueKind, name string, rtypes types.RecordTypeSet) ([]types.Result, error) {
	var results []types.Result

	err := retry.Do(func() error {
		var err error

		results, err = p.Lookup(ctx, kind, name, rtypes)
		if err != nil {
			return err
		}
		return allFailed(name, results)
	},
		retry.Attempts(p.retries+1),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.DelayType(p.backoff.delayType),
		retry.OnRetry(func(n uint, err error) {
			p.log.Debug("retrying the lookup", zap.String("name", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.RetryIf(Retryable),
	)
	return results, err
}

// Retryable reports whether another attempt may produce a different result.
func Retryable(err error) bool {
	return errors.Is(err, types.ErrTimeout) ||
		errors.Is(err, types.ErrClosed) ||
		errors.Is(err, types.ErrWriteRejected)
}

func allFailed(name string, results []types.Result) error {
	var first error

	for _, res := range results {
		if res.Success() {
			return nil
		}
		if first == nil {
			first = res.Err
		}
	}
	if first == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, first)
}

func sortResults(results []types.Result) []types.Result {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RecordType < results[j].RecordType
	})
	return results
}
