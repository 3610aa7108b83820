package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/otxwallet/pkg/storage"
)

// ReserveNumbers hands count transaction numbers to the nym, reusing
// harvested ones first.
func (l *Ledger) ReserveNumbers(nymID string, count int) ([]int64, error) {
	if count <= 0 || count > maxReserve {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidRequest, count)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireNym(nymID); err != nil {
		return nil, err
	}

	var nums []int64
	err := l.db.Scan(storage.Prefix("num", nymID), func(_, v []byte) error {
		if len(nums) == count {
			return nil
		}
		var rec numberRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if rec.State == numberAvailable {
			nums = append(nums, rec.Number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := l.begin()
	for len(nums) < count {
		nums = append(nums, t.number())
	}
	for _, n := range nums {
		if err := t.put(storage.Key("num", nymID, storage.Num(n)), numberRecord{Number: n, State: numberReserved}); err != nil {
			t.discard()
			return nil, err
		}
	}
	if _, err := t.commit(); err != nil {
		return nil, err
	}
	l.log.Debugw("numbers_reserved", "nym", nymID, "numbers", nums)
	return nums, nil
}

// HarvestNumbers returns reserved numbers to the nym's available pool.
// The batch is all or nothing.
func (l *Ledger) HarvestNumbers(nymID string, numbers []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	seen := make(map[int64]bool, len(numbers))
	for _, n := range numbers {
		if seen[n] {
			t.discard()
			return fmt.Errorf("%w: %d listed twice", ErrBadNumber, n)
		}
		seen[n] = true
		key := storage.Key("num", nymID, storage.Num(n))
		var rec numberRecord
		ok, err := l.db.GetJSON(key, &rec)
		if err != nil {
			t.discard()
			return err
		}
		if !ok || rec.State != numberReserved {
			t.discard()
			return fmt.Errorf("%w: %d", ErrBadNumber, n)
		}
		rec.State = numberAvailable
		if err := t.put(key, rec); err != nil {
			t.discard()
			return err
		}
	}
	if _, err := t.commit(); err != nil {
		return err
	}
	l.log.Infow("numbers_harvested", "nym", nymID, "count", len(numbers))
	return nil
}
