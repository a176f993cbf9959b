// Copyright © by Jeff Foley 2021-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"testing"

	"github.com/owasp-amass/tunresolve/types"
)

func TestXchgAddRemove(t *testing.T) {
	mgr := newXchgMgr()
	x := &xchg{resolveID: 1, rtype: types.RecordTypeA, kind: types.Background}

	if err := mgr.add(10, x); err != nil {
		t.Errorf("Failed to add the transaction")
	}
	if err := mgr.add(10, x); err == nil {
		t.Errorf("Failed to detect the same message ID added twice")
	}
	if c := mgr.count(types.Background); c != 1 {
		t.Errorf("Expected a background count of 1, got %d", c)
	}

	if ret := mgr.remove(10); ret != x {
		t.Errorf("Did not find and remove the transaction from the data structure")
	}
	if ret := mgr.remove(10); ret != nil {
		t.Errorf("Did not return nil when attempting to remove an element for the second time")
	}
	if c := mgr.count(types.Background); c != 0 {
		t.Errorf("Expected a background count of 0, got %d", c)
	}
	if err := mgr.add(10, x); err != nil {
		t.Errorf("Failed to add the transaction after being removed")
	}
}

func TestXchgRemoveResolve(t *testing.T) {
	mgr := newXchgMgr()

	_ = mgr.add(1, &xchg{resolveID: 7, rtype: types.RecordTypeAAAA, kind: types.Foreground})
	_ = mgr.add(2, &xchg{resolveID: 7, rtype: types.RecordTypeA, kind: types.Foreground})
	_ = mgr.add(3, &xchg{resolveID: 8, rtype: types.RecordTypeA, kind: types.Foreground})

	removed := mgr.removeResolve(7)
	if len(removed) != 2 {
		t.Fatalf("Expected two transactions removed, got %d", len(removed))
	}
	if removed[0].rtype != types.RecordTypeA || removed[1].rtype != types.RecordTypeAAAA {
		t.Errorf("The removed transactions are not in record type order")
	}
	if mgr.len() != 1 || mgr.count(types.Foreground) != 1 {
		t.Errorf("Expected one transaction to remain")
	}
}

func TestXchgRemoveKinds(t *testing.T) {
	mgr := newXchgMgr()

	_ = mgr.add(1, &xchg{resolveID: 1, kind: types.Background})
	_ = mgr.add(2, &xchg{resolveID: 2, kind: types.Foreground})
	_ = mgr.add(3, &xchg{resolveID: 3, kind: types.Background})

	removed := mgr.removeKinds(types.NewQueueKindSet(types.Background))
	if len(removed) != 2 || removed[0].resolveID != 1 || removed[1].resolveID != 3 {
		t.Errorf("Did not remove the background transactions in request order")
	}
	if mgr.count(types.Background) != 0 || mgr.count(types.Foreground) != 1 {
		t.Errorf("The per kind counts were not updated")
	}
}

func TestXchgRemoveAll(t *testing.T) {
	mgr := newXchgMgr()

	for i := uint16(1); i <= 10; i++ {
		_ = mgr.add(i, &xchg{resolveID: types.ResolveID(11 - i), kind: types.Foreground})
	}

	removed := mgr.removeAll()
	if len(removed) != 10 {
		t.Fatalf("Expected ten transactions removed, got %d", len(removed))
	}
	for i := 1; i < len(removed); i++ {
		if removed[i-1].resolveID > removed[i].resolveID {
			t.Errorf("The removed transactions are not in request order")
		}
	}
	if mgr.len() != 0 || mgr.count(types.Foreground) != 0 {
		t.Errorf("Expected the data structure to be empty")
	}
}
