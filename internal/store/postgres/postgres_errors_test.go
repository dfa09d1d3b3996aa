package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestUniqueViolationClassification(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(dup) {
		t.Fatal("expected 23505 to classify as unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert checkout: %w", dup)) {
		t.Fatal("expected wrapped 23505 to classify as unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "40001"}) {
		t.Fatal("40001 is not a unique violation")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("non-postgres error is not a unique violation")
	}
}

func TestSerializationFailureClassification(t *testing.T) {
	abort := &pgconn.PgError{Code: "40001"}
	if !isSerializationFailure(abort) {
		t.Fatal("expected 40001 to classify as serialization failure")
	}
	if !isSerializationFailure(fmt.Errorf("commit: %w", abort)) {
		t.Fatal("expected wrapped 40001 to classify as serialization failure")
	}
	if isSerializationFailure(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("23505 is not a serialization failure")
	}
	if isSerializationFailure(errors.New("plain error")) {
		t.Fatal("non-postgres error is not a serialization failure")
	}
}
