package main

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

type stubRepoError struct{ notFound bool }

func (e stubRepoError) Error() string       { return "stub" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return false }
func (e stubRepoError) IsUnavailable() bool { return false }

func TestSplitRoles(t *testing.T) {
	got := splitRoles(" admin, ,support ")
	want := []string{"admin", "support"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if roles := splitRoles(""); roles != nil {
		t.Fatalf("expected no roles, got %v", roles)
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(stubRepoError{notFound: true}) {
		t.Fatal("expected not found")
	}
	if isNotFound(stubRepoError{}) {
		t.Fatal("expected other repository error")
	}
	if isNotFound(errors.New("boom")) {
		t.Fatal("plain errors are not repository errors")
	}
}

func TestRunRequiresEmail(t *testing.T) {
	if err := run(context.Background(), zap.NewNop(), "  ", "admin", false); err == nil {
		t.Fatal("expected missing email error")
	}
}
