package assert

import (
	"errors"
	"reflect"
	"testing"
)

func Must1[T any](v T, err error) T {
	Must(err)
	return v
}

func Must(err error) {
	if err != nil {
		panic(err)
	}
}

func Error(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("got: %v, want: !nil", err)
	}
}

func NoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("got: %v, want: nil", err)
	}
}

func ErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got: %v, want: %v", err, target)
	}
}

func Equal[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got: %v, want: %v", got, want)
	}
}

func DeepEqual(t *testing.T, got, want any) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got: %#v, want: %#v", got, want)
	}
}

func True(t *testing.T, got bool) {
	t.Helper()
	if !got {
		t.Fatalf("got: %v, want: true", got)
	}
}

func False(t *testing.T, got bool) {
	t.Helper()
	if got {
		t.Fatalf("got: %v, want: false", got)
	}
}
