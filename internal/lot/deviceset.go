// Package lot holds device membership of lots and trades.
package lot

// DeviceSet is an insertion-ordered set of device ids.
type DeviceSet struct {
	ids   []int64
	index map[int64]struct{}
}

// NewDeviceSet builds a set from ids, dropping repeats.
func NewDeviceSet(ids ...int64) *DeviceSet {
	s := &DeviceSet{index: make(map[int64]struct{}, len(ids))}
	s.Add(ids...)
	return s
}

// Add appends ids not already present.
func (s *DeviceSet) Add(ids ...int64) {
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
}

// Contains reports whether id is in the set.
func (s *DeviceSet) Contains(id int64) bool {
	_, ok := s.index[id]
	return ok
}

// DifferenceUpdate removes every id of other from s and returns the ids it
// actually removed.
func (s *DeviceSet) DifferenceUpdate(other ...int64) []int64 {
	drop := make(map[int64]struct{}, len(other))
	for _, id := range other {
		if _, ok := s.index[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	kept := s.ids[:0]
	var removed []int64
	for _, id := range s.ids {
		if _, ok := drop[id]; ok {
			delete(s.index, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	s.ids = kept
	return removed
}

// Len returns the number of ids.
func (s *DeviceSet) Len() int { return len(s.ids) }

// IDs returns a copy of the ids in insertion order.
func (s *DeviceSet) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}
