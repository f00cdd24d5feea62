package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"horse.fit/marketpulse/internal/reconcile"
)

func TestClassifyMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "discussion_items_pkey"})
	err := classify("insert item p1", dup)
	if !errors.Is(err, reconcile.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	fk := &pgconn.PgError{Code: "23503"}
	err = classify("insert item c1", fk)
	if errors.Is(err, reconcile.ErrDuplicateKey) {
		t.Fatalf("foreign key violation must not look like a duplicate: %v", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected original error to stay inspectable, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	if IsUniqueViolation(errors.New("duplicate key value violates unique constraint")) {
		t.Fatalf("plain errors are never classified by message")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: uniqueViolation}) {
		t.Fatalf("expected SQLSTATE 23505 to be a unique violation")
	}
}
