package executor

import (
	"fmt"
	"sync"
)

// statementSet deduplicates Prepare calls by name for one executor.
type statementSet struct {
	mu     sync.Mutex
	byName map[string]*Prepared
}

// lookup returns the existing handle for name. A name reused with different
// SQL is an error.
func (s *statementSet) lookup(name, sql string) (*Prepared, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	if p.SQL != sql {
		return nil, fmt.Errorf("statement %q already prepared with different SQL", name)
	}
	return p, nil
}

// store records p unless another goroutine stored the same name first, in
// which case the existing handle wins and stored is false.
func (s *statementSet) store(p *Prepared) (winner *Prepared, stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byName == nil {
		s.byName = make(map[string]*Prepared)
	}
	if existing, ok := s.byName[p.Name]; ok {
		return existing, false
	}
	s.byName[p.Name] = p
	return p, true
}

// drain removes and returns every handle.
func (s *statementSet) drain() []*Prepared {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Prepared, 0, len(s.byName))
	for _, p := range s.byName {
		out = append(out, p)
	}
	s.byName = nil
	return out
}

func (s *statementSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName)
}
