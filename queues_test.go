// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"testing"

	"github.com/owasp-amass/tunresolve/types"
	"github.com/stretchr/testify/require"
)

func TestQueuesFIFO(t *testing.T) {
	q := newQueues()
	require.True(t, q.empty())

	for i := 1; i <= 3; i++ {
		q.enqueue(&pending{id: types.ResolveID(i), kind: types.Foreground})
	}
	q.enqueue(&pending{id: 4, kind: types.Background})
	require.Equal(t, 3, q.len(types.Foreground))
	require.Equal(t, 1, q.len(types.Background))

	p, found := q.peek(types.Foreground)
	require.True(t, found)
	require.Equal(t, types.ResolveID(1), p.id)

	for i := 1; i <= 3; i++ {
		p, found := q.drainOne(types.Foreground)
		require.True(t, found)
		require.Equal(t, types.ResolveID(i), p.id)
	}
	_, found = q.drainOne(types.Foreground)
	require.False(t, found)
	require.False(t, q.empty())
}

func TestQueuesRemove(t *testing.T) {
	q := newQueues()

	q.enqueue(&pending{id: 1, kind: types.Background})
	q.enqueue(&pending{id: 2, kind: types.Foreground})

	require.True(t, q.remove(2))
	require.False(t, q.remove(2))
	require.False(t, q.remove(9))
	require.Zero(t, q.len(types.Foreground))
	require.Equal(t, 1, q.len(types.Background))
}

func TestQueuesTakeAll(t *testing.T) {
	q := newQueues()

	q.enqueue(&pending{id: 1, kind: types.Foreground})
	q.enqueue(&pending{id: 2, kind: types.Background})
	q.enqueue(&pending{id: 3, kind: types.Foreground})

	all := q.takeAll()
	require.Len(t, all, 3)
	require.Equal(t, types.ResolveID(2), all[0].id)
	require.Equal(t, types.ResolveID(1), all[1].id)
	require.Equal(t, types.ResolveID(3), all[2].id)
	require.True(t, q.empty())
}
