package bantrie

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const seedLockTTL = 30 * time.Second
const seedPollInterval = 100 * time.Millisecond

// SeedOnce bulk-loads a static list of ranges into the trie exactly once
// across concurrently cold-starting processes. One process wins a lock token
// and performs the insert; losers poll until the lock key disappears. The
// lock only serializes the bulk load: ongoing inserts are safe without it
// because node creation is idempotent per (parent, bit) key.
//
// The wait is bounded by the lock TTL plus ctx; callers should pass a ctx
// with an overall timeout.
func (t *Trie) SeedOnce(ctx context.Context, ranges []string) error {
	if len(ranges) == 0 {
		return nil
	}

	doneKey := t.prefix + ":seeded"
	lockKey := t.prefix + ":seedlock"

	seeded, err := t.store.Exists(ctx, doneKey)
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}

	token := uuid.NewString()
	acquired, err := t.store.SetNX(ctx, lockKey, token, seedLockTTL)
	if err != nil {
		return err
	}

	if !acquired {
		return t.waitForSeeder(ctx, lockKey)
	}

	t.logger.Info().Int("ranges", len(ranges)).Msg("seeding ban trie")
	for _, cidr := range ranges {
		if err := t.Insert(ctx, cidr, time.Time{}); err != nil {
			t.store.Delete(ctx, lockKey)
			return err
		}
	}
	if err := t.store.Set(ctx, doneKey, token, 0); err != nil {
		t.store.Delete(ctx, lockKey)
		return err
	}
	_, err = t.store.Delete(ctx, lockKey)
	return err
}

func (t *Trie) waitForSeeder(ctx context.Context, lockKey string) error {
	ticker := time.NewTicker(seedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			held, err := t.store.Exists(ctx, lockKey)
			if err != nil {
				return err
			}
			if !held {
				return nil
			}
		}
	}
}
