package service

// orderedSet collects distinct strings, keeping first-insertion order.
type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), values: []string{}}
}

// Add appends v unless it is nil, empty or already present.
func (s *orderedSet) Add(v *string) {
	if v == nil || *v == "" {
		return
	}
	if _, ok := s.seen[*v]; ok {
		return
	}
	s.seen[*v] = struct{}{}
	s.values = append(s.values, *v)
}

// Values returns the collected strings; never nil.
func (s *orderedSet) Values() []string {
	return s.values
}
