package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected no transaction, got %v", tx)
	}
}

func TestRunInTx_ReusesContextTransaction(t *testing.T) {
	// A nil-valued pgx.Tx is never stored, so simulate a caller-owned
	// transaction with a context value of the right type.
	ctx := context.WithValue(context.Background(), txKey, fakeTx{})
	want := errors.New("inner")
	called := false
	err := RunInTx(ctx, nil, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) == nil {
			t.Error("expected the outer transaction to be visible")
		}
		return want
	})
	if !called {
		t.Fatal("expected fn to run")
	}
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

type fakeTx struct{ pgx.Tx }
