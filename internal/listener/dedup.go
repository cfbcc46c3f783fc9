package listener

import "maunium.net/go/mautrix/id"

// dedupSet remembers the most recent event ids in a fixed-size ring. When
// full, adding evicts the oldest id.
type dedupSet struct {
	ring  []id.EventID
	next  int
	count int
	index map[id.EventID]struct{}
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = 1000
	}
	return &dedupSet{
		ring:  make([]id.EventID, capacity),
		index: make(map[id.EventID]struct{}, capacity),
	}
}

// Add records evt and reports whether it was new.
func (d *dedupSet) Add(evt id.EventID) bool {
	if _, ok := d.index[evt]; ok {
		return false
	}
	if d.count == len(d.ring) {
		delete(d.index, d.ring[d.next])
	} else {
		d.count++
	}
	d.ring[d.next] = evt
	d.index[evt] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
	return true
}

func (d *dedupSet) Contains(evt id.EventID) bool {
	_, ok := d.index[evt]
	return ok
}

func (d *dedupSet) Len() int {
	return len(d.index)
}
