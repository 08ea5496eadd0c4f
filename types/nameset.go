package types

import (
	"encoding/json"
	"slices"
	"strings"
)

// NameDelimiter separates names in the encoded (storage) form of a NameSet.
const NameDelimiter = ","

// NameSet is an unordered set of exact-match names. Membership is
// case-sensitive and never trims or folds input on lookup.
//
// The JSON form is a sorted array of names; Encode produces the
// delimited form used by relational backends.
type NameSet map[string]struct{}

// NewNameSet builds a set from names, skipping empty strings.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// ParseNameSet decodes a delimited string produced by Encode. Names are
// kept byte for byte, so Encode(ParseNameSet(x)) == x for any encoded set.
func ParseNameSet(encoded string) NameSet {
	if encoded == "" {
		return NameSet{}
	}
	return NewNameSet(strings.Split(encoded, NameDelimiter)...)
}

// Contains reports whether name is a member.
func (s NameSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts name. Empty names are ignored.
func (s *NameSet) Add(name string) {
	if name == "" {
		return
	}
	if *s == nil {
		*s = NameSet{}
	}
	(*s)[name] = struct{}{}
}

// Remove deletes name and reports whether it was present.
func (s NameSet) Remove(name string) bool {
	if _, ok := s[name]; !ok {
		return false
	}
	delete(s, name)
	return true
}

// Len returns the number of names in the set.
func (s NameSet) Len() int { return len(s) }

// Names returns the members in lexical order.
func (s NameSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Clone returns an independent copy of the set.
func (s NameSet) Clone() NameSet {
	c := make(NameSet, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Encode returns the delimited storage form.
func (s NameSet) Encode() string {
	return strings.Join(s.Names(), NameDelimiter)
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s NameSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes a JSON array of names.
func (s *NameSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewNameSet(names...)
	return nil
}
