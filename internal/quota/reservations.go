package quota

import (
	"math"
	"sync"
	"sync/atomic"

	counters "gatekeeper/internal/common/ratelimit"
)

// costScale is the fixed-point resolution of reserved cost
const costScale = 1e9

// reservations tracks units admitted but not yet recorded, per caller and in
// total, along with their estimated cost, so that concurrent requests cannot
// all pass the same budget check
type reservations struct {
	shards []*reservationShard
	total  atomic.Int64
	cost   atomic.Int64
}

type reservationShard struct {
	mu      sync.Mutex
	pending map[string]int64
}

func newReservations(shards int) *reservations {
	r := &reservations{shards: make([]*reservationShard, shards)}
	for i := range r.shards {
		r.shards[i] = &reservationShard{pending: make(map[string]int64)}
	}
	return r
}

func (r *reservations) shard(callerID string) *reservationShard {
	return r.shards[counters.ShardIndex(callerID, len(r.shards))]
}

// add reserves units for callerID and returns the caller's pending total
func (r *reservations) add(callerID string, units int64) int64 {
	s := r.shard(callerID)
	s.mu.Lock()
	s.pending[callerID] += units
	pending := s.pending[callerID]
	s.mu.Unlock()

	r.total.Add(units)
	return pending
}

func (r *reservations) release(callerID string, units int64) {
	s := r.shard(callerID)
	s.mu.Lock()
	left := s.pending[callerID] - units
	if left <= 0 {
		units += left
		delete(s.pending, callerID)
	} else {
		s.pending[callerID] = left
	}
	s.mu.Unlock()

	r.total.Add(-units)
}

func (r *reservations) caller(callerID string) int64 {
	s := r.shard(callerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[callerID]
}

func (r *reservations) global() int64 {
	return r.total.Load()
}

func toCostUnits(cost float64) int64 {
	return int64(math.Round(cost * costScale))
}

func (r *reservations) addCost(cost float64) {
	r.cost.Add(toCostUnits(cost))
}

func (r *reservations) releaseCost(cost float64) {
	r.cost.Add(-toCostUnits(cost))
}

func (r *reservations) globalCost() float64 {
	return float64(r.cost.Load()) / costScale
}
