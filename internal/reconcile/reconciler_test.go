package reconcile

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"fleettrack/internal/model"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time { return func() time.Time { return t0 } }

func intp(i int) *int { return &i }

func TestApplySnapshot_IdempotentKeepsReference(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	snap := []model.TrackedJourney{
		{ID: "1", Status: model.StatusInProgress, CompletedStops: 2, TotalStops: 5, Location: &model.Location{Lat: 41, Lng: 29}},
		{ID: "2", Status: model.StatusPlanned},
	}
	if got := r.ApplySnapshot(snap); got != Applied {
		t.Fatalf("first apply: %s", got)
	}
	first, v1 := r.Journeys()
	if got := r.ApplySnapshot(snap); got != Suppressed {
		t.Fatalf("second apply: %s", got)
	}
	second, v2 := r.Journeys()
	if v1 != v2 {
		t.Fatalf("version moved on no-op: %d -> %d", v1, v2)
	}
	if &first[0] != &second[0] {
		t.Fatal("no-op snapshot published a new collection")
	}
}

func TestApplySnapshot_UntimedLocationIsIdempotentAcrossClock(t *testing.T) {
	t.Parallel()
	now := t0
	r := New(func() time.Time { return now })
	snap := []model.TrackedJourney{{ID: "1", Location: &model.Location{Lat: 1, Lng: 2}}}
	r.ApplySnapshot(snap)
	now = now.Add(10 * time.Second)
	if got := r.ApplySnapshot(snap); got != Suppressed {
		t.Fatalf("untimed repeat should be suppressed, got %s", got)
	}
}

func TestApplySnapshot_RemovesAbsentJourneys(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	r.ApplySnapshot([]model.TrackedJourney{{ID: "3"}, {ID: "1"}})
	js, _ := r.Journeys()
	if len(js) != 2 || js[0].ID != "3" || js[1].ID != "1" {
		t.Fatalf("unexpected collection: %+v", js)
	}
	if _, ok := r.Lookup("2"); ok {
		t.Fatal("journey 2 should be gone")
	}
}

func TestApplySnapshot_SkipsInvalidAndDeduplicates(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{
		{ID: "1", DriverName: "old"},
		{ID: ""},
		{ID: "2"},
		{ID: "1", DriverName: "new"},
	})
	js, _ := r.Journeys()
	if len(js) != 2 {
		t.Fatalf("want 2 journeys, got %d", len(js))
	}
	if js[0].ID != "1" || js[0].DriverName != "new" {
		t.Fatalf("duplicate should keep last row at first position: %+v", js[0])
	}
}

func TestApplyPatch_LocationKeepsProgress(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", Status: model.StatusInProgress, CompletedStops: 2, TotalStops: 5}})
	out := r.ApplyPatch(model.PositionUpdate{JourneyID: "1", Location: &model.Location{Lat: 41, Lng: 29, Speed: 30}})
	if out != Applied {
		t.Fatalf("patch: %s", out)
	}
	j, _ := r.Lookup("1")
	if j.Location == nil || j.Location.Lat != 41 || j.Location.Lng != 29 || j.Location.Speed != 30 {
		t.Fatalf("location not merged: %+v", j.Location)
	}
	if j.CompletedStops != 2 || j.TotalStops != 5 || j.Status != model.StatusInProgress {
		t.Fatalf("progress changed: %+v", j)
	}
}

func TestApplyPatch_PartialFieldsAreNonDestructive(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	loc := &model.Location{Lat: 10, Lng: 20, ObservedAt: t0}
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", CurrentStopIndex: 1, Location: loc}})

	r.ApplyPatch(model.PositionUpdate{JourneyID: "1", CurrentStopIndex: intp(3)})
	j, _ := r.Lookup("1")
	if j.CurrentStopIndex != 3 {
		t.Fatalf("stop index not applied: %d", j.CurrentStopIndex)
	}
	if !j.Location.Equal(loc) {
		t.Fatalf("stop-index patch touched location: %+v", j.Location)
	}

	r.ApplyPatch(model.PositionUpdate{JourneyID: "1", Location: &model.Location{Lat: 11, Lng: 21, ObservedAt: t0.Add(time.Second)}})
	j, _ = r.Lookup("1")
	if j.CurrentStopIndex != 3 {
		t.Fatalf("location patch touched stop index: %d", j.CurrentStopIndex)
	}
	if j.Location.Lat != 11 {
		t.Fatalf("location not applied: %+v", j.Location)
	}
}

func TestApplyPatch_UnknownJourneyIsNoop(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1"}, {ID: "2"}})
	before, v1 := r.Journeys()
	if out := r.ApplyPatch(model.PositionUpdate{JourneyID: "99", Location: &model.Location{Lat: 1, Lng: 1}}); out != Dropped {
		t.Fatalf("unknown id: %s", out)
	}
	after, v2 := r.Journeys()
	if v1 != v2 || &before[0] != &after[0] || len(after) != 2 {
		t.Fatal("collection changed on unknown patch")
	}
}

func TestApplyPatch_OlderPositionDoesNotRegress(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", Location: &model.Location{Lat: 5, Lng: 5, ObservedAt: t0}}})
	out := r.ApplyPatch(model.PositionUpdate{JourneyID: "1", Location: &model.Location{Lat: 6, Lng: 6, ObservedAt: t0.Add(-time.Minute)}})
	if out != Suppressed {
		t.Fatalf("stale patch should be suppressed, got %s", out)
	}
	// a snapshot carrying an older position keeps the newer push position
	r.ApplyPatch(model.PositionUpdate{JourneyID: "1", Location: &model.Location{Lat: 7, Lng: 7, ObservedAt: t0.Add(time.Minute)}})
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", Location: &model.Location{Lat: 5, Lng: 5, ObservedAt: t0}}})
	j, _ := r.Lookup("1")
	if j.Location.Lat != 7 {
		t.Fatalf("snapshot regressed position: %+v", j.Location)
	}
}

func TestApplySnapshot_KeepsPositionWhenRowHasNone(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1"}})
	r.ApplyPatch(model.PositionUpdate{JourneyID: "1", Location: &model.Location{Lat: 3, Lng: 4}})
	if out := r.ApplySnapshot([]model.TrackedJourney{{ID: "1"}}); out != Suppressed {
		t.Fatalf("snapshot without position should not change anything: %s", out)
	}
	j, _ := r.Lookup("1")
	if j.Location == nil || j.Location.Lat != 3 {
		t.Fatalf("position lost: %+v", j.Location)
	}
}

func TestApplyPatch_SamePositionSuppressed(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", CurrentStopIndex: 2}})
	if out := r.ApplyPatch(model.PositionUpdate{JourneyID: "1", CurrentStopIndex: intp(2)}); out != Suppressed {
		t.Fatalf("same stop index should be suppressed: %s", out)
	}
	if out := r.ApplyPatch(model.PositionUpdate{JourneyID: "1"}); out != Suppressed {
		t.Fatalf("empty patch should be suppressed: %s", out)
	}
}

func TestObserve_OrderAndCancel(t *testing.T) {
	t.Parallel()
	r := New(fixedClock())
	var got []string
	cancel := r.Observe(func(c Change) { got = append(got, fmt.Sprintf("%s:%d", c.Source, c.Version)) })
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1"}})
	r.ApplyPatch(model.PositionUpdate{JourneyID: "1", CurrentStopIndex: intp(1)})
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", CurrentStopIndex: 1}}) // no-op
	cancel()
	r.ApplySnapshot([]model.TrackedJourney{})
	want := []string{"poll:1", "push:2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("observer calls = %v, want %v", got, want)
	}
}

func TestConcurrentPollAndPushAreSerialized(t *testing.T) {
	r := New(nil)
	r.ApplySnapshot([]model.TrackedJourney{{ID: "1", TotalStops: 100}, {ID: "2"}})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.ApplyPatch(model.PositionUpdate{JourneyID: "1", CurrentStopIndex: intp(i)})
		}(i)
		go func() {
			defer wg.Done()
			r.ApplySnapshot([]model.TrackedJourney{{ID: "1", TotalStops: 100}, {ID: "2"}})
		}()
	}
	wg.Wait()
	js, _ := r.Journeys()
	if len(js) != 2 || js[0].TotalStops != 100 {
		t.Fatalf("collection corrupted: %+v", js)
	}
}
