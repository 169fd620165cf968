package spend

import (
	"context"
	"time"

	"github.com/modelrelay/modelrelay/internal/admission"
	"github.com/modelrelay/modelrelay/internal/analytics"
	"github.com/modelrelay/modelrelay/internal/usage"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	// leaseTTL bounds how long a stalled replica can block draining.
	leaseTTL = 30 * time.Second
	// tickTimeout bounds one full drain cycle.
	tickTimeout = 25 * time.Second
)

// Worker drains the spend queue in batches under a distributed lease and is
// the sole writer of budget counters and analytical rows.
type Worker struct {
	rdb      *redis.Client
	db       *gorm.DB
	inserter analytics.Inserter

	interval           time.Duration
	batchSize          int
	creditsPerCostUnit decimal.Decimal

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker constructs a Worker.
func NewWorker(rdb *redis.Client, db *gorm.DB, inserter analytics.Inserter, interval time.Duration, batchSize int, creditsPerCostUnit int64) *Worker {
	return &Worker{
		rdb:                rdb,
		db:                 db,
		inserter:           inserter,
		interval:           interval,
		batchSize:          batchSize,
		creditsPerCostUnit: decimal.NewFromInt(creditsPerCostUnit),
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Start launches the drain loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.runTick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// Drain attempts one final settlement pass, used during shutdown.
func (w *Worker) Drain(ctx context.Context) {
	w.runTick(ctx)
}

func (w *Worker) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tickTimeout)
	defer cancel()
	if errTick := w.tick(tickCtx); errTick != nil {
		log.WithError(errTick).Warn("spend: settlement tick failed")
	}
}

// tick acquires the lease and drains one batch. A lease miss means another
// replica is the writer for this interval.
func (w *Worker) tick(ctx context.Context) error {
	acquired, errLock := w.rdb.SetNX(ctx, lockKey, "locked", leaseTTL).Result()
	if errLock != nil {
		return errLock
	}
	if !acquired {
		return nil
	}
	// The lease is released even when settlement fails.
	defer func() {
		if errUnlock := w.rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); errUnlock != nil {
			log.WithError(errUnlock).Warn("spend: lease release failed")
		}
	}()

	length, errLen := w.rdb.LLen(ctx, queueKey).Result()
	if errLen != nil {
		return errLen
	}
	if length == 0 {
		return nil
	}
	count := int(length)
	if count > w.batchSize {
		count = w.batchSize
	}

	pipe := w.rdb.Pipeline()
	pops := make([]*redis.StringCmd, count)
	for i := range pops {
		pops[i] = pipe.RPop(ctx, queueKey)
	}
	if _, errExec := pipe.Exec(ctx); errExec != nil && errExec != redis.Nil {
		return errExec
	}

	records := make([]*usage.Record, 0, count)
	for _, cmd := range pops {
		encoded, errPop := cmd.Result()
		if errPop != nil {
			continue
		}
		record, errDecode := decodeRecord(encoded)
		if errDecode != nil {
			log.WithError(errDecode).Warn("spend: dropping undecodable record")
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil
	}
	return w.settle(ctx, records)
}

// settle aggregates a batch and applies its outputs concurrently: budget
// updates to the transactional store and row inserts to the analytical one.
func (w *Worker) settle(ctx context.Context, records []*usage.Record) error {
	accountSums := map[uint64]decimal.Decimal{}
	keySums := map[uint64]decimal.Decimal{}
	rows := make([]analytics.SpendRow, 0, len(records))

	for _, record := range records {
		cost := record.Cost()
		if cost.IsZero() {
			continue
		}

		if record.KeyID != 0 {
			keySums[record.KeyID] = keySums[record.KeyID].Add(cost)
		}
		// Subscription spend never touches the account counters.
		if record.AccountID != 0 && record.SpendMode != string(admission.SpendModeSubscription) {
			accountSums[record.AccountID] = accountSums[record.AccountID].Add(cost)
		}

		inRate, _ := decimal.NewFromString(record.InputCostPerToken)
		outRate, _ := decimal.NewFromString(record.OutputCostPerToken)
		rows = append(rows, analytics.SpendRow{
			Timestamp:          record.Timestamp(),
			Endpoint:           record.Endpoint,
			DurationMS:         uint64(record.DurationMS),
			AccountID:          record.AccountID,
			KeyID:              record.KeyID,
			Provider:           record.Provider,
			Model:              record.Model,
			DeploymentID:       record.DeploymentID,
			InputTokens:        uint64(record.InputTokens),
			OutputTokens:       uint64(record.OutputTokens),
			InputCostPerToken:  inRate,
			OutputCostPerToken: outRate,
		})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return UpdateAccountBudgets(groupCtx, w.db, accountSums, w.creditsPerCostUnit)
	})
	group.Go(func() error {
		return UpdateKeyBudgets(groupCtx, w.db, keySums)
	})
	group.Go(func() error {
		return w.inserter.InsertSpendRows(groupCtx, rows)
	})
	return group.Wait()
}
