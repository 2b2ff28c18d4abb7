package db

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		{errors.New("UNIQUE constraint failed: cash_transactions.transaction_id"), true},
		{errors.New("Error 1062: Duplicate entry"), true},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := IsDuplicateKeyErr(tc.err); got != tc.want {
			t.Fatalf("IsDuplicateKeyErr(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	cfg := testConfig("oracle")
	if _, err := Dialect(cfg); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	for _, typ := range []string{"sqlite", "postgres", "mysql"} {
		if _, err := Dialect(testConfig(typ)); err != nil {
			t.Fatalf("dialect %s: %v", typ, err)
		}
	}
}
