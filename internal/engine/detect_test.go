package engine

import (
	"testing"
	"time"

	"commdigest/internal/source"
	"commdigest/internal/state"
)

var detectNow = time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

func item(fp string) source.Item {
	return source.Item{
		SourceID:    "wiki-a",
		Fingerprint: fp,
		Title:       "item " + fp,
		Timestamp:   detectNow.Add(-time.Hour),
	}
}

func TestDetect_FirstRunAllNew(t *testing.T) {
	res := source.Result{
		Items:         []source.Item{item("f1"), item("f2")},
		VersionMarker: "v1",
	}

	det := Detect("wiki-a", res, nil, 100, detectNow)

	if len(det.NewItems) != 2 {
		t.Fatalf("got %d new items, want 2", len(det.NewItems))
	}
	if det.State.VersionMarker != "v1" {
		t.Errorf("marker = %q, want v1", det.State.VersionMarker)
	}
	if len(det.State.Fingerprints) != 2 {
		t.Errorf("state fingerprints = %v, want 2 entries", det.State.Fingerprints)
	}
}

func TestDetect_SeenFingerprintsSkipped(t *testing.T) {
	prior := &state.SourceState{
		SourceID:      "wiki-a",
		VersionMarker: "v1",
		Fingerprints:  []string{"f1"},
	}
	res := source.Result{
		Items:         []source.Item{item("f1"), item("f2")},
		VersionMarker: "v2",
	}

	det := Detect("wiki-a", res, prior, 100, detectNow)

	if len(det.NewItems) != 1 || det.NewItems[0].Fingerprint != "f2" {
		t.Fatalf("new items = %v, want only f2", det.NewItems)
	}
	if !det.State.Seen("f1") || !det.State.Seen("f2") {
		t.Error("updated state should carry both old and new fingerprints")
	}
}

func TestDetect_DuplicateWithinFetch(t *testing.T) {
	res := source.Result{
		Items: []source.Item{item("f1"), item("f1"), item("f1")},
	}

	det := Detect("wiki-a", res, nil, 100, detectNow)

	if len(det.NewItems) != 1 {
		t.Fatalf("got %d new items, want 1 after intra-fetch dedup", len(det.NewItems))
	}
	if len(det.State.Fingerprints) != 1 {
		t.Errorf("state fingerprints = %v, want single entry", det.State.Fingerprints)
	}
}

func TestDetect_MarkerShortCircuit(t *testing.T) {
	prior := &state.SourceState{
		SourceID:      "wiki-a",
		VersionMarker: "v1",
		Fingerprints:  []string{"f1"},
	}
	// Items the adapter returned anyway; the matching marker means none are new.
	res := source.Result{
		Items:         []source.Item{item("f1"), item("f9")},
		VersionMarker: "v1",
	}

	det := Detect("wiki-a", res, prior, 100, detectNow)

	if len(det.NewItems) != 0 {
		t.Fatalf("got %d new items, want 0 on marker match", len(det.NewItems))
	}
	if det.State.VersionMarker != "v1" {
		t.Errorf("marker = %q, want unchanged v1", det.State.VersionMarker)
	}
}

func TestDetect_EmptyMarkerNeverShortCircuits(t *testing.T) {
	prior := &state.SourceState{SourceID: "wiki-a", Fingerprints: []string{"f1"}}
	res := source.Result{Items: []source.Item{item("f2")}}

	det := Detect("wiki-a", res, prior, 100, detectNow)

	if len(det.NewItems) != 1 {
		t.Fatalf("got %d new items, want 1 when markers are empty", len(det.NewItems))
	}
}

func TestDetect_WindowBoundsState(t *testing.T) {
	prior := &state.SourceState{
		SourceID:     "wiki-a",
		Fingerprints: []string{"old1", "old2"},
	}
	res := source.Result{Items: []source.Item{item("f1"), item("f2")}}

	det := Detect("wiki-a", res, prior, 3, detectNow)

	if len(det.State.Fingerprints) != 3 {
		t.Fatalf("fingerprints = %v, want window of 3", det.State.Fingerprints)
	}
	if det.State.Seen("old1") {
		t.Error("oldest fingerprint should have been evicted")
	}
	if !det.State.Seen("f2") {
		t.Error("newest fingerprint missing from window")
	}
}
