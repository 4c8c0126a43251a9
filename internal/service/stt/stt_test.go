package stt

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransient_WrapsAndUnwraps(t *testing.T) {
	base := errors.New("model busy")
	err := Transient(base)

	if !IsTransient(err) {
		t.Error("expected IsTransient true")
	}
	if IsFatal(err) {
		t.Error("expected IsFatal false")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match with errors.Is")
	}
}

func TestFatal_Classification(t *testing.T) {
	base := errors.New("backend missing")
	err := Fatal(base)

	if !IsFatal(err) {
		t.Error("expected IsFatal true")
	}
	if IsTransient(err) {
		t.Error("fatal errors must not be transient")
	}
}

func TestFatal_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("tick 7: %w", Fatal(errors.New("no compute backend")))
	if !IsFatal(err) {
		t.Error("expected IsFatal true through wrapping")
	}
}

func TestUnclassifiedDefaultsToTransient(t *testing.T) {
	if !IsTransient(errors.New("something odd")) {
		t.Error("unclassified errors must default to transient")
	}
}

func TestNilHandling(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) must be nil")
	}
	if Fatal(nil) != nil {
		t.Error("Fatal(nil) must be nil")
	}
	if IsTransient(nil) {
		t.Error("IsTransient(nil) must be false")
	}
	if IsFatal(nil) {
		t.Error("IsFatal(nil) must be false")
	}
}
