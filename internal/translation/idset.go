package translation

import "slices"

// idSet is an insertion-ordered set of block identifiers.
type idSet struct {
	order []string
	index map[string]struct{}
}

func newIDSet() *idSet {
	return &idSet{index: make(map[string]struct{})}
}

func (s *idSet) add(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *idSet) remove(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

func (s *idSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *idSet) len() int { return len(s.order) }

func (s *idSet) items() []string {
	return slices.Clone(s.order)
}

// drainInto moves every id into dst, preserving order.
func (s *idSet) drainInto(dst *idSet) {
	for _, id := range s.order {
		dst.add(id)
	}
	s.clear()
}

func (s *idSet) clear() {
	s.order = nil
	s.index = make(map[string]struct{})
}
