package transcript

import (
	"testing"

	"github.com/ashahealth/dictation-gateway/internal/transcription"
)

func interim(text string) *transcription.Result {
	return &transcription.Result{Text: text, IsFinal: false}
}

func final(text string) *transcription.Result {
	return &transcription.Result{Text: text, IsFinal: true, Confidence: 0.9}
}

func TestAggregator_InterimReplacesWholesale(t *testing.T) {
	agg := NewAggregator()

	agg.Add(interim("patient"))
	agg.Add(interim("patient reports"))
	agg.Add(interim("patient reports pain"))

	if got := agg.PartialText(); got != "patient reports pain" {
		t.Errorf("Expected latest interim only, got %q", got)
	}
	if got := agg.FinalText(); got != "" {
		t.Errorf("Interims must not touch the final transcript, got %q", got)
	}
}

func TestAggregator_FinalAppendsAndClearsPartial(t *testing.T) {
	agg := NewAggregator()

	agg.Add(interim("patient reports"))
	agg.Add(final("Patient reports chest pain."))

	if got := agg.PartialText(); got != "" {
		t.Errorf("Final result must clear the partial, got %q", got)
	}
	if got := agg.FinalText(); got != "Patient reports chest pain." {
		t.Errorf("Unexpected final text: %q", got)
	}

	agg.Add(final("Onset two days ago."))
	if got := agg.FinalText(); got != "Patient reports chest pain. Onset two days ago." {
		t.Errorf("Expected space-joined segments, got %q", got)
	}
}

func TestAggregator_ArrivalOrderNoDedup(t *testing.T) {
	agg := NewAggregator()

	agg.Add(final("yes"))
	agg.Add(final("yes"))
	agg.Add(final("no"))

	segments := agg.Segments()
	if len(segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segments))
	}
	if segments[0].Text != "yes" || segments[1].Text != "yes" || segments[2].Text != "no" {
		t.Errorf("Segments out of order or deduplicated: %+v", segments)
	}
}

func TestAggregator_SegmentsAreImmutable(t *testing.T) {
	agg := NewAggregator()
	agg.Add(final("first"))

	segments := agg.Segments()
	segments[0].Text = "mutated"

	if agg.Segments()[0].Text != "first" {
		t.Error("Mutating a returned copy must not affect the aggregator")
	}
}

func TestAggregator_IgnoresEmptyAndNil(t *testing.T) {
	agg := NewAggregator()

	agg.Add(nil)
	agg.Add(&transcription.Result{Text: "", IsFinal: true})

	if len(agg.Segments()) != 0 || agg.PartialText() != "" {
		t.Error("Empty results must be ignored")
	}
}

func TestAggregator_Snapshot(t *testing.T) {
	agg := NewAggregator()
	agg.Add(final("one"))
	agg.Add(final("two"))
	agg.Add(interim("thr"))

	view := agg.Snapshot()
	if view.Final != "one two" {
		t.Errorf("Unexpected final: %q", view.Final)
	}
	if view.Partial != "thr" {
		t.Errorf("Unexpected partial: %q", view.Partial)
	}
	if len(view.Segments) != 2 {
		t.Errorf("Expected 2 segments, got %d", len(view.Segments))
	}
}

func TestAggregator_Reset(t *testing.T) {
	agg := NewAggregator()
	agg.Add(final("something"))
	agg.Add(interim("more"))

	agg.Reset()

	if agg.FinalText() != "" || agg.PartialText() != "" || len(agg.Segments()) != 0 {
		t.Error("Reset must clear all state")
	}
}
