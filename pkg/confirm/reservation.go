package confirm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrReserveFailed        = errors.New("transaction number reservation failed")
	ErrReservationExhausted = errors.New("reservation exhausted")
)

// NumberSource reserves and returns transaction numbers on a notary.
type NumberSource interface {
	ReserveNumbers(ctx context.Context, nymID, serverID string, count int) ([]int64, error)
	HarvestNumbers(ctx context.Context, nymID, serverID string, numbers []int64) error
}

// Reservation owns a batch of transaction numbers until it is either
// committed (the numbers went to the notary) or released (harvested).
//
//	res, err := Reserve(ctx, notary, nym, server, n, log)
//	if err != nil { ... }
//	defer res.Release(ctx)
//	...
//	res.Commit()
type Reservation struct {
	src      NumberSource
	nymID    string
	serverID string
	numbers  []int64
	next     int

	committed bool
	released  bool
	harvests  int

	log *zap.SugaredLogger
}

// Reserve asks the notary for count numbers. On error there is nothing to harvest.
func Reserve(ctx context.Context, src NumberSource, nymID, serverID string, count int, log *zap.SugaredLogger) (*Reservation, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", ErrReserveFailed, count)
	}
	nums, err := src.ReserveNumbers(ctx, nymID, serverID, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReserveFailed, err)
	}
	if len(nums) < count {
		// Partial grant: hand back what we did get.
		if len(nums) > 0 {
			if herr := src.HarvestNumbers(ctx, nymID, serverID, nums); herr != nil {
				log.Warnw("harvest_failed", "nym", nymID, "numbers", nums, "err", herr)
			}
		}
		return nil, fmt.Errorf("%w: wanted %d numbers, got %d", ErrReserveFailed, count, len(nums))
	}
	log.Debugw("numbers_reserved", "nym", nymID, "server", serverID, "numbers", nums)
	return &Reservation{
		src:      src,
		nymID:    nymID,
		serverID: serverID,
		numbers:  nums,
		log:      log,
	}, nil
}

// Take hands out the next unused number.
func (r *Reservation) Take() (int64, error) {
	if r.next >= len(r.numbers) {
		return 0, ErrReservationExhausted
	}
	n := r.numbers[r.next]
	r.next++
	return n, nil
}

func (r *Reservation) Numbers() []int64 {
	return append([]int64(nil), r.numbers...)
}

// Commit marks the numbers as consumed by the notary; Release becomes a no-op.
func (r *Reservation) Commit() { r.committed = true }

func (r *Reservation) Committed() bool { return r.committed }

// Harvests reports how many times the numbers were handed back (0 or 1).
func (r *Reservation) Harvests() int { return r.harvests }

// Release harvests every reserved number unless the reservation was committed.
// It runs at most once; a failed harvest is logged, not returned.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil || r.committed || r.released {
		return
	}
	r.released = true
	r.harvests++
	if err := r.src.HarvestNumbers(ctx, r.nymID, r.serverID, r.numbers); err != nil {
		r.log.Warnw("harvest_failed", "nym", r.nymID, "server", r.serverID, "numbers", r.numbers, "err", err)
		return
	}
	r.log.Infow("numbers_harvested", "nym", r.nymID, "server", r.serverID, "count", len(r.numbers))
}
