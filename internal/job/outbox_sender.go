package job

import (
	"context"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Publisher delivers one message to the broker.
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender relays ledger events committed to the outbox table. Delivery
// is at least once: a message is marked sent only after the broker acked it.
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     Publisher
	log           zerolog.Logger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.LedgerConfig, log zerolog.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		log:           log.With().Str("job", "outbox_sender").Logger(),
		stopCh:        make(chan struct{}),
		interval:      cfg.OutboxInterval,
		batchSize:     cfg.OutboxBatchSize,
		maxRetryCount: cfg.OutboxMaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("outbox sender exiting on context cancel")
			return
		case <-s.stopCh:
			s.log.Info().Msg("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPendingMessages sends one batch and returns how many were delivered.
// Once a message fails, later messages with the same key wait for the next
// pass so one owner's events reach the broker in commit order.
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("load pending messages failed")
		return 0
	}

	sent := 0
	blocked := make(map[string]bool)
	for _, msg := range messages {
		if blocked[msg.MessageKey] {
			continue
		}
		if s.sendMessage(ctx, msg) {
			sent++
		} else {
			blocked[msg.MessageKey] = true
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.With().Int64("message_id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Logger()

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			log.Error().Err(err).Msg("mark message sent failed")
			return false
		}
		log.Debug().Msg("message sent")
		return true
	}

	log.Warn().Err(err).Msg("send message failed")

	retries, err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID)
	if err != nil {
		log.Error().Err(err).Msg("increment retry count failed")
		return false
	}

	if retries >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Error().Err(err).Msg("mark message failed failed")
		} else {
			log.Error().Int("retries", retries).Msg("message exceeded max retries, marked failed")
		}
	}
	return false
}
