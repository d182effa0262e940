package repo

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/db/dbtest"
)

type ctxKey struct{}

func TestNewBaseStoresConnection(t *testing.T) {
	conn := dbtest.Open(t)
	base := NewBase(conn)

	if base.db != conn {
		t.Fatalf("expected base db to match provided connection")
	}
}

func TestBaseDBBindsContext(t *testing.T) {
	conn := dbtest.Open(t)
	base := NewBase(conn)

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	withCtx := base.DB(ctx)
	if withCtx.Statement == nil || withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through")
	}

	if base.DB(nil) != conn {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestRebindKeepsHandleOnNilTx(t *testing.T) {
	conn := dbtest.Open(t)
	base := NewBase(conn)

	if base.Rebind(nil).db != conn {
		t.Fatalf("nil tx should keep the original handle")
	}

	err := conn.Transaction(func(tx *gorm.DB) error {
		if base.Rebind(tx).db != tx {
			return fmt.Errorf("rebind did not switch to tx")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLockedRunsOnSQLite(t *testing.T) {
	conn := dbtest.Open(t)
	base := NewBase(conn)

	var count int64
	if err := base.Locked(context.Background()).Table("items").Count(&count).Error; err != nil {
		t.Fatalf("locked query failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty table, got %d", count)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("wrapped: %w", gorm.ErrRecordNotFound)) {
		t.Fatal("expected wrapped sentinel to match")
	}
	if IsNotFound(fmt.Errorf("other")) {
		t.Fatal("unexpected match")
	}
}
