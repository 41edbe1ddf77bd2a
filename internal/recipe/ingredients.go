package recipe

import (
	"encoding/json"
	"slices"
	"strings"
)

// NormalizeIngredient trims and lowercases a raw ingredient entry.
func NormalizeIngredient(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IngredientSet is an insertion-ordered set of normalised ingredient names.
// The zero value is an empty set.
type IngredientSet struct {
	items []string
}

// NewIngredientSet builds a set, applying Add to each entry.
func NewIngredientSet(items ...string) IngredientSet {
	var s IngredientSet
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts raw after normalisation. Blank entries and entries already
// present are ignored. It reports whether the set changed.
func (s *IngredientSet) Add(raw string) bool {
	v := NormalizeIngredient(raw)
	if v == "" || s.Contains(v) {
		return false
	}
	s.items = append(s.items, v)
	return true
}

// Remove deletes name by exact match. It reports whether the set changed.
func (s *IngredientSet) Remove(name string) bool {
	i := slices.Index(s.items, name)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

// Contains reports whether the normalised name is present.
func (s IngredientSet) Contains(name string) bool {
	return slices.Contains(s.items, name)
}

func (s IngredientSet) Len() int {
	return len(s.items)
}

// Items returns the entries in insertion order.
func (s IngredientSet) Items() []string {
	return slices.Clone(s.items)
}

func (s IngredientSet) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

func (s *IngredientSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewIngredientSet(raw...)
	return nil
}
