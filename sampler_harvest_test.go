// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sampler

import (
	"testing"
)

// TestAccumulator_Harvest_Scenarios exercises the marker-based drain end to
// end at the data-structure level. It verifies that:
//   - EmptyKeyReturnsNothing: a null/empty partition key returns an empty result immediately and touches neither queue nor counter.
//   - PartitionsExactly: harvest removes exactly the matching samples and leaves the rest pending, in their original relative order.
//   - SurvivorsKeepRelativeOrder: samples re-appended by one harvest come back in order on the next harvest of their partition.
//   - SecondHarvestEmpty: a drained partition yields an empty (not nil-panicking) result on the following cycle.
//   - BulkDecrementSingleStep: the counter moves from N to N-R in one observable step, with no intermediate values during the drain.
//   - MarkerNeverCounted: a harvest of an empty accumulator leaves the counter at zero (the marker itself is invisible).
//
// Expectations: every assertion checks Pending() alongside the returned
// samples, since the counter and the queue are the two halves of the
// structure's contract.
func TestAccumulator_Harvest_Scenarios(t *testing.T) {
	assertPending := func(t *testing.T, a *Accumulator, want int64) {
		t.Helper()
		if got := a.Pending(); got != want {
			t.Fatalf("Pending() = %d, want %d", got, want)
		}
	}

	t.Run("EmptyKeyReturnsNothing", func(t *testing.T) {
		a := New(10)
		a.Offer(mk("orders", 1))
		a.Offer(mk("orders", 2))
		if got := a.Harvest(""); len(got) != 0 {
			t.Fatalf("Harvest(\"\") returned %d samples, want 0", len(got))
		}
		assertPending(t, a, 2)
		// Both samples must still be harvestable afterwards.
		if got := a.Harvest("orders"); len(got) != 2 {
			t.Fatalf("Harvest(\"orders\") after empty-key call returned %d, want 2", len(got))
		}
	})

	t.Run("PartitionsExactly", func(t *testing.T) {
		a := New(10)
		a1 := mk("A", 1)
		b1 := mk("B", 2)
		a2 := mk("A", 3)
		for _, s := range []*testSample{a1, b1, a2} {
			if !a.Offer(s) {
				t.Fatalf("offer of %s/%d unexpectedly rejected", s.app, s.seq)
			}
		}

		got := a.Harvest("B")
		if len(got) != 1 || got[0] != Sample(b1) {
			t.Fatalf("Harvest(\"B\") = %v, want exactly the one B sample", got)
		}
		assertPending(t, a, 2)

		rest := a.Harvest("A")
		if len(rest) != 2 || rest[0] != Sample(a1) || rest[1] != Sample(a2) {
			t.Fatalf("Harvest(\"A\") returned %d samples in wrong order, want [a1 a2]", len(rest))
		}
		assertPending(t, a, 0)
	})

	t.Run("SurvivorsKeepRelativeOrder", func(t *testing.T) {
		a := New(10)
		order := []*testSample{mk("A", 0), mk("B", 1), mk("A", 2), mk("B", 3), mk("A", 4)}
		for _, s := range order {
			a.Offer(s)
		}

		as := a.Harvest("A")
		if len(as) != 3 {
			t.Fatalf("Harvest(\"A\") returned %d samples, want 3", len(as))
		}
		for i, want := range []int{0, 2, 4} {
			if as[i].(*testSample).seq != want {
				t.Fatalf("A-sample %d has seq %d, want %d", i, as[i].(*testSample).seq, want)
			}
		}

		// The B samples were re-appended during the A harvest; their order
		// relative to each other must have survived the rotation.
		bs := a.Harvest("B")
		if len(bs) != 2 || bs[0].(*testSample).seq != 1 || bs[1].(*testSample).seq != 3 {
			t.Fatalf("Harvest(\"B\") = %v, want seqs [1 3] in order", bs)
		}
		assertPending(t, a, 0)
	})

	t.Run("SecondHarvestEmpty", func(t *testing.T) {
		a := New(10)
		a.Offer(mk("A", 1))
		if got := a.Harvest("A"); len(got) != 1 {
			t.Fatalf("first Harvest(\"A\") returned %d, want 1", len(got))
		}
		if got := a.Harvest("A"); len(got) != 0 {
			t.Fatalf("second Harvest(\"A\") returned %d, want 0", len(got))
		}
		assertPending(t, a, 0)
	})

	t.Run("BulkDecrementSingleStep", func(t *testing.T) {
		a := New(10)
		for i := 0; i < 4; i++ {
			a.Offer(mk("A", i))
		}
		a.Offer(mk("B", 100))
		a.Offer(mk("B", 101))
		assertPending(t, a, 6)

		// Watch the counter from a second goroutine for the whole harvest.
		// With no producers running, the only legal transition is 6 -> 2 in
		// one step; any per-item decrement would surface as 5, 4 or 3.
		stop := make(chan struct{})
		seen := make(chan map[int64]bool, 1)
		go func() {
			observed := map[int64]bool{}
			for {
				select {
				case <-stop:
					seen <- observed
					return
				default:
					observed[a.Pending()] = true
				}
			}
		}()

		removed := a.Harvest("A")
		close(stop)
		observed := <-seen

		if len(removed) != 4 {
			t.Fatalf("Harvest(\"A\") removed %d samples, want 4", len(removed))
		}
		assertPending(t, a, 2)
		for v := range observed {
			if v != 6 && v != 2 {
				t.Fatalf("observed intermediate counter value %d during harvest, want only 6 and 2", v)
			}
		}
	})

	t.Run("MarkerNeverCounted", func(t *testing.T) {
		a := New(10)
		if got := a.Harvest("A"); len(got) != 0 {
			t.Fatalf("harvest of empty accumulator returned %d samples, want 0", len(got))
		}
		assertPending(t, a, 0)
		// The marker must not linger in the queue either: a subsequent offer
		// and harvest see only the real sample.
		a.Offer(mk("A", 1))
		if got := a.Harvest("A"); len(got) != 1 {
			t.Fatalf("harvest after empty-cycle returned %d samples, want 1", len(got))
		}
	})
}
