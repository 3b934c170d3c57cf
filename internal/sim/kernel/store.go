package kernel

import "sort"

// Store owns all artifact records. Serialized by the kernel lock.
type Store struct {
	artifacts map[string]*Artifact
}

func newStore() *Store {
	return &Store{artifacts: map[string]*Artifact{}}
}

func (s *Store) Get(id string) *Artifact { return s.artifacts[id] }

func (s *Store) Put(a *Artifact) { s.artifacts[a.ID] = a }

func (s *Store) Delete(id string) { delete(s.artifacts, id) }

func (s *Store) Len() int { return len(s.artifacts) }

// IDs returns all artifact ids in ascending order.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OwnedBy returns ids of artifacts owned by the given principal, ascending.
func (s *Store) OwnedBy(owner string) []string {
	var out []string
	for id, a := range s.artifacts {
		if a.Owner == owner {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
