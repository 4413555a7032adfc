package job

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
)

type fakePublisher struct {
	err      error
	failOnce map[string]bool // payloads whose first send fails
	sent     []string
	values   []string
}

func (f *fakePublisher) SendMessage(topic, key, value string) error {
	if f.err != nil {
		return f.err
	}
	if f.failOnce[value] {
		delete(f.failOnce, value)
		return errors.New("broker timeout")
	}
	f.sent = append(f.sent, key)
	f.values = append(f.values, value)
	return nil
}

func seedOutbox(t *testing.T, repo *repository.OutboxRepository, keys ...string) {
	t.Helper()
	for _, key := range keys {
		msg := &model.OutboxMessage{MessageKey: key, Topic: "ledger_events", Payload: `{"entry_no":"` + key + `"}`, Status: model.OutboxStatusPending}
		if err := repo.Create(context.Background(), nil, msg); err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}
}

func testLedgerConfig() *config.LedgerConfig {
	cfg := config.Default().Ledger
	cfg.OutboxBatchSize = 10
	cfg.OutboxMaxRetryCount = 2
	return &cfg
}

func TestOutboxSenderDeliversInOrder(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	seedOutbox(t, repo, "1", "2", "3")

	pub := &fakePublisher{}
	sender := NewOutboxSender(db, pub, testLedgerConfig(), zerolog.Nop())
	ctx := context.Background()

	if n := sender.ProcessPendingMessages(ctx); n != 3 {
		t.Fatalf("sent %d, want 3", n)
	}
	if len(pub.sent) != 3 || pub.sent[0] != "1" || pub.sent[2] != "3" {
		t.Fatalf("unexpected send order %v", pub.sent)
	}
	if n, _ := repo.CountByStatus(ctx, model.OutboxStatusSent); n != 3 {
		t.Fatalf("sent rows = %d, want 3", n)
	}

	if n := sender.ProcessPendingMessages(ctx); n != 0 {
		t.Fatalf("second pass resent %d messages", n)
	}
}

func TestOutboxSenderMarksFailedAfterMaxRetries(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	seedOutbox(t, repo, "7")

	sender := NewOutboxSender(db, &fakePublisher{err: errors.New("broker down")}, testLedgerConfig(), zerolog.Nop())
	ctx := context.Background()

	sender.ProcessPendingMessages(ctx)
	if n, _ := repo.CountByStatus(ctx, model.OutboxStatusPending); n != 1 {
		t.Fatalf("message should stay pending after the first failure")
	}

	sender.ProcessPendingMessages(ctx)
	if n, _ := repo.CountByStatus(ctx, model.OutboxStatusFailed); n != 1 {
		t.Fatalf("message should be failed after reaching max retries")
	}
	if n := sender.ProcessPendingMessages(ctx); n != 0 {
		t.Fatalf("failed messages must not be retried")
	}
}

func TestOutboxSenderWithKafkaProducer(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	seedOutbox(t, repo, "1", "2")

	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := mq.NewProducer(sp)
	t.Cleanup(func() { _ = producer.Close() })

	sender := NewOutboxSender(db, producer, testLedgerConfig(), zerolog.Nop())
	if n := sender.ProcessPendingMessages(context.Background()); n != 1 {
		t.Fatalf("sent %d, want 1", n)
	}
	if n, _ := repo.CountByStatus(context.Background(), model.OutboxStatusPending); n != 1 {
		t.Fatalf("failed delivery should remain pending, got %d pending", n)
	}
}

func TestOutboxSenderKeepsPerKeyOrder(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewOutboxRepository(db)
	ctx := context.Background()
	for _, m := range []struct{ key, payload string }{
		{"1", "a1"}, {"2", "b1"}, {"1", "a2"}, {"2", "b2"},
	} {
		msg := &model.OutboxMessage{MessageKey: m.key, Topic: "ledger_events", Payload: m.payload, Status: model.OutboxStatusPending}
		if err := repo.Create(ctx, nil, msg); err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
	}

	pub := &fakePublisher{failOnce: map[string]bool{"a1": true}}
	sender := NewOutboxSender(db, pub, testLedgerConfig(), zerolog.Nop())

	if n := sender.ProcessPendingMessages(ctx); n != 2 {
		t.Fatalf("first pass sent %d, want 2", n)
	}
	if strings.Join(pub.values, ",") != "b1,b2" {
		t.Fatalf("owner 1 should be held back after its failure, sent %v", pub.values)
	}

	if n := sender.ProcessPendingMessages(ctx); n != 2 {
		t.Fatalf("second pass sent %d, want 2", n)
	}
	if strings.Join(pub.values, ",") != "b1,b2,a1,a2" {
		t.Fatalf("unexpected delivery order %v", pub.values)
	}
}
