package util

// Set tracks membership for comparable values; the server uses it for the
// websocket client registry and per-client flow subscriptions
type Set[K comparable] map[K]struct{}

// SetOf creates a set containing the given elements
func SetOf[K comparable](elements ...K) Set[K] {
	s := make(Set[K], len(elements))
	for _, elem := range elements {
		s[elem] = struct{}{}
	}
	return s
}

// Add inserts an element
func (s Set[K]) Add(key K) {
	s[key] = struct{}{}
}

// Remove deletes an element
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether the element is present
func (s Set[K]) Contains(key K) bool {
	_, exists := s[key]
	return exists
}

// IsEmpty reports whether the set has no elements
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}
