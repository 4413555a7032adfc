package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"bankledger/internal/config"
	"bankledger/internal/logger"
	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/pkg/idgen"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Locker serializes operations per owner ahead of the database transaction.
type Locker interface {
	Lock(ctx context.Context, ownerID int64, token string) error
	Unlock(ctx context.Context, ownerID int64, token string) error
}

type accountStore interface {
	GetByOwnerIDForUpdate(ctx context.Context, tx *gorm.DB, ownerID int64) (*model.Account, error)
	GetOrCreate(ctx context.Context, tx *gorm.DB, ownerID int64, defaults model.Profile) (*model.Account, error)
	GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, ownerID int64, defaults model.Profile) (*model.Account, error)
	Save(ctx context.Context, tx *gorm.DB, account *model.Account) error
}

type entryStore interface {
	Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error
	ListByAccount(ctx context.Context, tx *gorm.DB, accountID int64) ([]model.LedgerEntry, error)
	LatestRecordedAt(ctx context.Context, tx *gorm.DB, accountID int64) (time.Time, error)
	ListRecent(ctx context.Context, ownerID int64, limit int) *repository.EntryCursor
}

type outboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// LedgerService owns every balance mutation. Each deposit or withdrawal
// updates the account row and appends its ledger entry (and outbox event)
// in one database transaction, under a row lock on the account.
type LedgerService struct {
	db       *gorm.DB
	locker   Locker
	cfg      config.LedgerConfig
	topic    string
	accounts accountStore
	entries  entryStore
	outbox   outboxStore
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewLedgerService wires the service. locker and metrics may be nil.
func NewLedgerService(db *gorm.DB, locker Locker, cfg *config.Config, metrics *Metrics, log zerolog.Logger) *LedgerService {
	s := &LedgerService{
		db:       db,
		locker:   locker,
		cfg:      cfg.Ledger,
		accounts: repository.NewAccountRepository(db),
		entries:  repository.NewLedgerEntryRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
	if cfg.Kafka.Enabled {
		s.topic = cfg.Kafka.Topic.LedgerEvents
	}
	return s
}

type DepositRequest struct {
	OwnerID   int64
	Amount    decimal.Decimal
	Breakdown Breakdown // nil when the caller gave no breakdown
	Memo      string
	Profile   model.Profile // used only if the account must be created
}

type WithdrawRequest struct {
	OwnerID int64
	Amount  decimal.Decimal
	Memo    string
	Profile model.Profile
}

type OperationResult struct {
	Balance decimal.Decimal
	Entry   *model.LedgerEntry
}

// Deposit credits the owner's account.
func (s *LedgerService) Deposit(ctx context.Context, req *DepositRequest) (result *OperationResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("deposit", start, err) }()

	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := CheckBreakdown(req.Amount, req.Breakdown); err != nil {
		return nil, err
	}

	memo := req.Memo
	if memo == "" {
		memo = "Cash Deposit"
		if len(req.Breakdown) > 0 {
			memo = "Cash Deposit: " + req.Breakdown.Describe()
		}
	}

	return s.apply(ctx, "deposit", req.OwnerID, req.Profile, model.EntryKindDeposit, req.Amount, s.clipMemo(memo))
}

// Withdraw debits the owner's account. It fails with an
// *InsufficientFundsError, and changes nothing, when amount exceeds the
// balance.
func (s *LedgerService) Withdraw(ctx context.Context, req *WithdrawRequest) (result *OperationResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("withdraw", start, err) }()

	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	memo := req.Memo
	if memo == "" {
		memo = "Cash Withdrawal of " + req.Amount.StringFixed(amountScale)
	}

	return s.apply(ctx, "withdraw", req.OwnerID, req.Profile, model.EntryKindWithdraw, req.Amount, s.clipMemo(memo))
}

// EnsureAccount returns the owner's account, creating it with a zero balance
// and the given profile on first access.
func (s *LedgerService) EnsureAccount(ctx context.Context, ownerID int64, profile model.Profile) (*model.Account, error) {
	account, err := s.accounts.GetOrCreate(ctx, nil, ownerID, profile)
	if err != nil {
		err = storeError("ensure account", err)
		s.log.Error().Err(err).Int64("owner_id", ownerID).Msg("ensure account failed")
		return nil, err
	}
	return account, nil
}

// UpdateProfile replaces the descriptive fields of the owner's account.
// The balance is untouched.
func (s *LedgerService) UpdateProfile(ctx context.Context, ownerID int64, profile model.Profile) (*model.Account, error) {
	var account *model.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.accounts.GetOrCreateForUpdate(ctx, tx, ownerID, profile)
		if err != nil {
			return err
		}
		account.Profile = profile
		return s.accounts.Save(ctx, tx, account)
	})
	if err != nil {
		return nil, storeError("update profile", err)
	}
	return account, nil
}

// RecentEntries returns up to limit entries, newest first. A non-positive
// limit means the configured default; the configured maximum caps it.
func (s *LedgerService) RecentEntries(ctx context.Context, ownerID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = s.cfg.RecentEntriesLimit
	}
	if s.cfg.MaxEntriesLimit > 0 && limit > s.cfg.MaxEntriesLimit {
		limit = s.cfg.MaxEntriesLimit
	}
	entries, err := s.entries.ListRecent(ctx, ownerID, limit).All()
	if err != nil {
		return nil, storeError("list entries", err)
	}
	return entries, nil
}

// Verification is the outcome of replaying an account's history.
type Verification struct {
	OwnerID    int64
	Balance    decimal.Decimal
	Folded     decimal.Decimal
	Entries    int
	Consistent bool
	// EntryNo of the first entry whose balance_after disagrees with the
	// replay, empty when every entry agrees.
	FirstMismatch string
}

// VerifyAccount replays the owner's entries from a zero balance and checks
// every recorded balance_after as well as the current balance. It reads
// under the account row lock so it never sees a half-applied operation.
func (s *LedgerService) VerifyAccount(ctx context.Context, ownerID int64) (*Verification, error) {
	var (
		account *model.Account
		entries []model.LedgerEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.accounts.GetByOwnerIDForUpdate(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		entries, err = s.entries.ListByAccount(ctx, tx, account.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeError("verify account", err)
	}

	folded, bad := FoldEntries(entries)
	v := &Verification{
		OwnerID: ownerID,
		Balance: account.Balance,
		Folded:  folded,
		Entries: len(entries),
	}
	if bad >= 0 {
		v.FirstMismatch = entries[bad].EntryNo
	}
	v.Consistent = bad < 0 && folded.Equal(account.Balance)
	if !v.Consistent {
		s.log.Error().Int64("owner_id", ownerID).
			Str("balance", account.Balance.StringFixed(amountScale)).
			Str("folded", folded.StringFixed(amountScale)).
			Str("first_mismatch", v.FirstMismatch).
			Msg("ledger history does not reproduce balance")
	}
	return v, nil
}

// FoldEntries replays entries (oldest first) from zero. It returns the final
// balance and the index of the first entry whose BalanceAfter differs from
// the replayed value, or -1.
func FoldEntries(entries []model.LedgerEntry) (decimal.Decimal, int) {
	balance := decimal.Zero
	bad := -1
	for i := range entries {
		balance = balance.Add(entries[i].Signed())
		if bad < 0 && !balance.Equal(entries[i].BalanceAfter) {
			bad = i
		}
	}
	return balance, bad
}

func (s *LedgerService) apply(ctx context.Context, op string, ownerID int64, profile model.Profile, kind string, amount decimal.Decimal, memo string) (*OperationResult, error) {
	log := logger.FromContext(ctx, s.log).With().
		Str("op", op).
		Int64("owner_id", ownerID).
		Str("amount", amount.StringFixed(amountScale)).
		Logger()

	if s.locker != nil {
		token := uuid.NewString()
		if err := s.locker.Lock(ctx, ownerID, token); err != nil {
			err = fmt.Errorf("%s: lock owner %d: %w: %w", op, ownerID, ErrStoreUnavailable, err)
			log.Error().Err(err).Msg("acquire owner lock failed")
			return nil, err
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), ownerID, token); err != nil {
				log.Warn().Err(err).Msg("release owner lock failed")
			}
		}()
	}

	for attempt := 0; ; attempt++ {
		result, err := s.applyOnce(ctx, ownerID, profile, kind, amount, memo)
		if err == nil {
			log.Info().
				Str("entry_no", result.Entry.EntryNo).
				Str("balance", result.Balance.StringFixed(amountScale)).
				Msg("ledger entry committed")
			return result, nil
		}
		if isConflict(err) && attempt < s.cfg.MaxConflictRetries {
			s.metrics.conflictRetry()
			log.Warn().Int("attempt", attempt+1).Msg("account changed underneath, retrying")
			continue
		}
		if isLedgerError(err) {
			log.Info().Err(err).Msg("ledger operation rejected")
			return nil, err
		}
		err = storeError(op, err)
		log.Error().Err(err).Msg("ledger operation rolled back")
		return nil, err
	}
}

// isConflict reports failures after which the whole transaction can be run
// again from scratch.
func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConcurrentUpdate) || repository.IsDeadlock(err)
}

func (s *LedgerService) applyOnce(ctx context.Context, ownerID int64, profile model.Profile, kind string, amount decimal.Decimal, memo string) (*OperationResult, error) {
	var result *OperationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accounts.GetOrCreateForUpdate(ctx, tx, ownerID, profile)
		if err != nil {
			return err
		}

		prefix := idgen.PrefixDeposit
		newBalance := account.Balance.Add(amount)
		if kind == model.EntryKindWithdraw {
			if amount.GreaterThan(account.Balance) {
				return &InsufficientFundsError{Balance: account.Balance, Requested: amount}
			}
			prefix = idgen.PrefixWithdraw
			newBalance = account.Balance.Sub(amount)
		} else if newBalance.GreaterThan(maxAmount) {
			return invalidAmount("deposit would raise the balance above %s", maxAmount.StringFixed(amountScale))
		}

		account.Balance = newBalance
		if err := s.accounts.Save(ctx, tx, account); err != nil {
			return err
		}

		// entries are ordered by (recorded_at, id); never stamp one before
		// its predecessor, even if the clock stepped back
		recordedAt := s.now()
		last, err := s.entries.LatestRecordedAt(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if recordedAt.Before(last) {
			recordedAt = last
		}

		entry := &model.LedgerEntry{
			EntryNo:      idgen.GenerateEntryNo(prefix),
			AccountID:    account.ID,
			Kind:         kind,
			Amount:       amount,
			BalanceAfter: newBalance,
			Memo:         memo,
			RecordedAt:   recordedAt,
		}
		if err := s.entries.Append(ctx, tx, entry); err != nil {
			return err
		}

		if err := s.enqueueEvent(ctx, tx, ownerID, entry); err != nil {
			return err
		}

		result = &OperationResult{Balance: newBalance, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) enqueueEvent(ctx context.Context, tx *gorm.DB, ownerID int64, entry *model.LedgerEntry) error {
	if s.topic == "" {
		return nil
	}
	payload, err := json.Marshal(model.LedgerEvent{
		EntryNo:      entry.EntryNo,
		OwnerID:      ownerID,
		Kind:         entry.Kind,
		Amount:       entry.Amount.StringFixed(amountScale),
		BalanceAfter: entry.BalanceAfter.StringFixed(amountScale),
		Memo:         entry.Memo,
		RecordedAt:   entry.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("encode ledger event: %w", err)
	}
	return s.outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: strconv.FormatInt(ownerID, 10),
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (s *LedgerService) clipMemo(memo string) string {
	limit := s.cfg.MaxMemoLength
	if limit <= 0 || utf8.RuneCountInString(memo) <= limit {
		return memo
	}
	runes := []rune(memo)
	return string(runes[:limit])
}
