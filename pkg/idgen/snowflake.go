package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Snowflake id generator
// ============================================================================
//
//   0 - 41 bit timestamp - 10 bit worker id - 12 bit sequence
//
// ids are unique per worker and trend upwards, which keeps the entry_no
// unique index append-friendly.
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	MaxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

const (
	PrefixDeposit  = "DEP"
	PrefixWithdraw = "WDR"
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("workerID must be within 0-%d", MaxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets up the package generator. Only the first call has any effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID draws from the package generator, initialising it with worker 1
// if Init was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted for this millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateEntryNo formats a ledger entry number: prefix, second-resolution
// timestamp, then the full snowflake id.
// e.g. DEP20240115143052-123456789012345
func GenerateEntryNo(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s-%d", prefix, timestamp, id)
}
