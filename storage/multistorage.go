package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/token-provisioner/interfaces"
)

// MultiStore mirrors provisioning records across several stores.
//
// Save succeeds only when every store accepted the snapshot. Load requires
// every mirror to answer and returns the most advanced record found, so a
// snapshot that reached only some of the mirrors before a failure is still
// picked up on the next run. Unreadable mirrors are skipped with a warning.
type MultiStore struct {
	stores []interfaces.StateStore
	log    *slog.Logger
}

// NewMultiStore creates a mirrored store. The first store is the primary:
// it wins ties between equally advanced records.
func NewMultiStore(stores []interfaces.StateStore, logger *slog.Logger) *MultiStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStore{
		stores: stores,
		log:    logger,
	}
}

func (m *MultiStore) Load(ctx context.Context, key interfaces.StateKey) (*interfaces.ProvisioningState, error) {
	start := time.Now()

	var (
		best     *interfaces.ProvisioningState
		bestFrom string
		corrupt  error
		errs     []error
	)

	for _, store := range m.stores {
		state, err := store.Load(ctx, key)

		var corruptErr *interfaces.CorruptStateError
		switch {
		case errors.As(err, &corruptErr):
			m.log.Warn("Ignoring unreadable record in mirror",
				slog.String("store", store.Name()),
				"err", err)
			if corrupt == nil {
				corrupt = err
			}
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Debug("Failed to load from mirror",
				slog.String("store", store.Name()),
				"err", err)
			continue
		}

		if state == nil {
			continue
		}

		if best != nil && best.Mint != "" && state.Mint != "" && best.Mint != state.Mint {
			m.log.Warn("Mirrors disagree on the recorded mint",
				slog.String("store", bestFrom),
				slog.String("mint", best.Mint.String()),
				slog.String("other_store", store.Name()),
				slog.String("other_mint", state.Mint.String()))
		}
		if best == nil || state.Stage() > best.Stage() {
			best = state
			bestFrom = store.Name()
		}
	}

	// An unreachable mirror may hold the most advanced snapshot.
	if len(errs) > 0 {
		m.log.Error("Failed to load state from mirrors",
			slog.String("key", key.String()),
			slog.Int("failed_stores", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%d of %d mirrors failed to load %s: %w", len(errs), len(m.stores), key, errors.Join(errs...))
	}
	if best == nil && corrupt != nil {
		return nil, corrupt
	}

	if best != nil {
		m.log.Debug("Loaded provisioning state from mirrors",
			slog.String("store", bestFrom),
			slog.String("stage", best.Stage().String()),
			slog.Duration("duration", time.Since(start)))
	}
	return best, nil
}

// Save writes the snapshot to every mirror and fails if any of them did.
func (m *MultiStore) Save(ctx context.Context, key interfaces.StateKey, state *interfaces.ProvisioningState) error {
	start := time.Now()
	var errs []error

	for _, store := range m.stores {
		if err := store.Save(ctx, key, state); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Error("Failed to store state in mirror",
				slog.String("store", store.Name()),
				"err", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d mirrors failed to store %s: %w", len(errs), len(m.stores), key, errors.Join(errs...))
	}

	m.log.Debug("Stored provisioning state in all mirrors",
		slog.Int("mirrors", len(m.stores)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Lock acquires the lock of every mirror that supports locking, in order.
func (m *MultiStore) Lock(ctx context.Context, key interfaces.StateKey) (func() error, error) {
	var unlocks []func() error
	release := func() error {
		var errs []error
		for i := len(unlocks) - 1; i >= 0; i-- {
			if err := unlocks[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, store := range m.stores {
		locker, ok := store.(interfaces.StateLocker)
		if !ok {
			continue
		}
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			if rerr := release(); rerr != nil {
				m.log.Warn("Failed to release mirror lock", "err", rerr)
			}
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}

	return release, nil
}

func (m *MultiStore) Name() string {
	return "multi"
}

func (m *MultiStore) LocationURI() string {
	var locations []string
	for _, store := range m.stores {
		locations = append(locations, store.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
