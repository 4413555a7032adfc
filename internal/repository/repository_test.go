package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/internal/testutil"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, nil, 10, model.DefaultProfile("dave", "dave@example.com"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := repo.GetOrCreate(ctx, nil, 10, model.DefaultProfile("someone-else", ""))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one account, got ids %d and %d", first.ID, second.ID)
	}
	if second.FullName != "dave" {
		t.Fatalf("existing profile must not be replaced, got %q", second.FullName)
	}

	var n int64
	db.Model(&model.Account{}).Where("owner_id = ?", 10).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 account row, got %d", n)
	}
}

func TestDuplicateOwnerIsIntegrityViolation(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, nil, &model.Account{OwnerID: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repo.Create(ctx, nil, &model.Account{OwnerID: 1})
	if err == nil || !repository.IsIntegrityViolation(err) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
}

func TestAppendRequiresExistingAccount(t *testing.T) {
	db := testutil.NewDB(t)
	entries := repository.NewLedgerEntryRepository(db)

	err := entries.Append(context.Background(), nil, &model.LedgerEntry{
		EntryNo:      "DEP-orphan",
		AccountID:    12345,
		Kind:         model.EntryKindDeposit,
		Amount:       decimal.NewFromInt(1),
		BalanceAfter: decimal.NewFromInt(1),
		RecordedAt:   time.Now(),
	})
	if err == nil || !repository.IsIntegrityViolation(err) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
}

func TestSaveDetectsStaleVersion(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	account, err := repo.GetOrCreate(ctx, nil, 5, model.Profile{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	stale := *account

	account.Balance = decimal.NewFromInt(10)
	if err := repo.Save(ctx, nil, account); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if account.Version != stale.Version+1 {
		t.Fatalf("version = %d, want %d", account.Version, stale.Version+1)
	}

	stale.Balance = decimal.NewFromInt(99)
	if err := repo.Save(ctx, nil, &stale); !errors.Is(err, repository.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	reloaded, err := repo.GetByOwnerID(ctx, nil, 5)
	if err != nil {
		t.Fatalf("GetByOwnerID: %v", err)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stale save overwrote balance: %s", reloaded.Balance)
	}
}

func TestTransactionRollbackDiscardsEntries(t *testing.T) {
	db := testutil.NewDB(t)
	accounts := repository.NewAccountRepository(db)
	entries := repository.NewLedgerEntryRepository(db)
	ctx := context.Background()

	account, err := accounts.GetOrCreate(ctx, nil, 1, model.Profile{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	boom := errors.New("boom")
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := entries.Append(ctx, tx, &model.LedgerEntry{
			EntryNo: "DEP-1", AccountID: account.ID, Kind: model.EntryKindDeposit,
			Amount: decimal.NewFromInt(5), BalanceAfter: decimal.NewFromInt(5), RecordedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected transaction error: %v", err)
	}

	got, err := entries.ListByAccount(ctx, nil, account.ID)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no entries after rollback, got %d (%v)", len(got), err)
	}
}

func seedEntries(t *testing.T, db *gorm.DB, ownerID int64, n int) []model.LedgerEntry {
	t.Helper()
	ctx := context.Background()
	account, err := repository.NewAccountRepository(db).GetOrCreate(ctx, nil, ownerID, model.Profile{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	repo := repository.NewLedgerEntryRepository(db)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var out []model.LedgerEntry
	for i := 0; i < n; i++ {
		// pairs share a timestamp so the id breaks the tie
		e := model.LedgerEntry{
			EntryNo:      fmt.Sprintf("DEP-%d-%d", ownerID, i),
			AccountID:    account.ID,
			Kind:         model.EntryKindDeposit,
			Amount:       decimal.NewFromInt(int64(i + 1)),
			BalanceAfter: decimal.NewFromInt(int64((i + 1) * (i + 2) / 2)),
			RecordedAt:   base.Add(time.Duration(i/2) * time.Minute),
		}
		if err := repo.Append(ctx, nil, &e); err != nil {
			t.Fatalf("Append: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestListRecentPagesNewestFirst(t *testing.T) {
	db := testutil.NewDB(t)
	seeded := seedEntries(t, db, 1, 7)
	seedEntries(t, db, 2, 3)

	repo := repository.NewLedgerEntryRepository(db)
	repository.SetPageSize(repo, 2)
	ctx := context.Background()

	got, err := repo.ListRecent(ctx, 1, 5).All()
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	for i, e := range got {
		want := seeded[len(seeded)-1-i]
		if e.EntryNo != want.EntryNo {
			t.Fatalf("position %d: got %s, want %s", i, e.EntryNo, want.EntryNo)
		}
	}

	all, err := repo.ListRecent(ctx, 1, 100).All()
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(all) != len(seeded) {
		t.Fatalf("expected %d entries, got %d", len(seeded), len(all))
	}

	// a cursor yields nothing beyond its limit and can be restarted
	cursor := repo.ListRecent(ctx, 1, 1)
	if !cursor.Next() || cursor.Entry().EntryNo != seeded[6].EntryNo {
		t.Fatalf("expected newest entry first")
	}
	if cursor.Next() {
		t.Fatalf("cursor should stop at its limit")
	}
	again, _ := repo.ListRecent(ctx, 1, 1).All()
	if len(again) != 1 || again[0].EntryNo != seeded[6].EntryNo {
		t.Fatalf("restarted cursor should begin at the newest entry")
	}

	if none, _ := repo.ListRecent(ctx, 1, 0).All(); len(none) != 0 {
		t.Fatalf("zero limit should yield nothing, got %d", len(none))
	}
}

func TestUserRepository(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewUserRepository(db)
	ctx := context.Background()

	user := &model.User{Username: "erin", Email: "erin@example.com", PasswordHash: "x"}
	if err := repo.Create(ctx, nil, user); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if ok, err := repo.ExistsByUsername(ctx, "erin"); err != nil || !ok {
		t.Fatalf("ExistsByUsername = %v, %v", ok, err)
	}
	if ok, err := repo.ExistsByEmail(ctx, "nobody@example.com"); err != nil || ok {
		t.Fatalf("ExistsByEmail = %v, %v", ok, err)
	}
	got, err := repo.GetByUsername(ctx, "erin")
	if err != nil || got.ID != user.ID {
		t.Fatalf("GetByUsername = %+v, %v", got, err)
	}
	if _, err := repo.GetByUsername(ctx, "frank"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	dup := &model.User{Username: "erin", Email: "other@example.com", PasswordHash: "x"}
	if err := repo.Create(ctx, nil, dup); !repository.IsIntegrityViolation(err) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
}

func TestOutboxRepository(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &model.OutboxMessage{MessageKey: "1", Topic: "ledger_events", Payload: "{}", Status: model.OutboxStatusPending}
		if err := repo.Create(ctx, nil, msg); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	pending, err := repo.GetPendingMessages(ctx, 2)
	if err != nil || len(pending) != 2 {
		t.Fatalf("GetPendingMessages = %d, %v", len(pending), err)
	}

	if err := repo.MarkAsSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("MarkAsSent: %v", err)
	}
	for want := 1; want <= 2; want++ {
		got, err := repo.IncrementRetryCount(ctx, pending[1].ID)
		if err != nil || got != want {
			t.Fatalf("IncrementRetryCount = %d, %v; want %d", got, err, want)
		}
	}
	if err := repo.MarkAsFailed(ctx, pending[1].ID); err != nil {
		t.Fatalf("MarkAsFailed: %v", err)
	}

	for status, want := range map[string]int64{
		model.OutboxStatusPending: 1,
		model.OutboxStatusSent:    1,
		model.OutboxStatusFailed:  1,
	} {
		n, err := repo.CountByStatus(ctx, status)
		if err != nil || n != want {
			t.Fatalf("CountByStatus(%s) = %d, %v; want %d", status, n, err, want)
		}
	}
}

func TestIsIntegrityViolation(t *testing.T) {
	if repository.IsIntegrityViolation(nil) {
		t.Fatalf("nil is not a violation")
	}
	if !repository.IsIntegrityViolation(fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey)) {
		t.Fatalf("wrapped ErrDuplicatedKey should be a violation")
	}
	if repository.IsIntegrityViolation(errors.New("connection refused")) {
		t.Fatalf("network error is not a violation")
	}
}

func TestIsDeadlock(t *testing.T) {
	deadlock := fmt.Errorf("tx: %w", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	if !repository.IsDeadlock(deadlock) {
		t.Fatalf("wrapped 1213 should be a deadlock")
	}
	if repository.IsDeadlock(&mysql.MySQLError{Number: 1062}) || repository.IsDeadlock(errors.New("deadlock")) {
		t.Fatalf("only MySQL error 1213 is a deadlock")
	}
}

func TestGetOrCreateForUpdateInsertsOnce(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			account, err := repo.GetOrCreateForUpdate(ctx, tx, 44, model.DefaultProfile("gina", ""))
			if err != nil {
				return err
			}
			ids = append(ids, account.ID)
			return nil
		})
		if err != nil {
			t.Fatalf("transaction %d: %v", i, err)
		}
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected one account, got ids %v", ids)
	}
}
