// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package types

import "errors"

// Errors carried by a failed Result.
var (
	ErrEncode          = errors.New("failed to encode the query")
	ErrWriteRejected   = errors.New("the host did not accept the query")
	ErrEmptyAnswer     = errors.New("the reply held no addresses")
	ErrTimeout         = errors.New("the query timed out")
	ErrClosed          = errors.New("the resolver connection has been closed")
	ErrStopped         = errors.New("resolving has been stopped")
	ErrIPv6Unavailable = errors.New("IPv6 is not available")
)

// Errors returned to the host when inbound data is rejected.
var (
	ErrMalformed       = errors.New("malformed DNS packet")
	ErrWrongConnection = errors.New("data arrived on an unexpected connection")
)
