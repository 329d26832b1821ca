// Package metadata implements the ordered key/value metadata carried
// alongside every request and response part.
package metadata

import "strings"

// MD is an ordered multimap of metadata pairs. Keys are always lower-cased
// ASCII; a key ending in "-bin" carries raw bytes rather than a UTF-8
// string, by convention (see IsBinary). MD itself stores every value as a
// string and applies no encoding for such keys.
//
// The zero value is a valid, empty MD.
type MD struct {
	pairs map[string][]string
	order []string // insertion order of distinct keys, for stable iteration
}

// New builds an MD from a plain map, one value per key.
func New(m map[string]string) MD {
	md := MD{}
	for k, v := range m {
		md.Append(k, v)
	}
	return md
}

// Pairs builds an MD from alternating key/value arguments, preserving the
// order they were given in (including repeated keys, which accumulate).
func Pairs(kv ...string) MD {
	if len(kv)%2 != 0 {
		panic("metadata: Pairs got an odd number of arguments")
	}
	md := MD{}
	for i := 0; i < len(kv); i += 2 {
		md.Append(kv[i], kv[i+1])
	}
	return md
}

func lowerKey(key string) string {
	return strings.ToLower(key)
}

// IsBinary reports whether key names a binary ("-bin" suffixed) header.
func IsBinary(key string) bool {
	return strings.HasSuffix(lowerKey(key), "-bin")
}

// Append adds values to key, preserving any values already present.
func (md *MD) Append(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	key = lowerKey(key)
	if md.pairs == nil {
		md.pairs = make(map[string][]string)
	}
	if _, ok := md.pairs[key]; !ok {
		md.order = append(md.order, key)
	}
	md.pairs[key] = append(md.pairs[key], values...)
}

// Set replaces any existing values for key.
func (md *MD) Set(key string, values ...string) {
	key = lowerKey(key)
	if md.pairs == nil {
		md.pairs = make(map[string][]string)
	}
	if _, ok := md.pairs[key]; !ok {
		md.order = append(md.order, key)
	}
	md.pairs[key] = append([]string(nil), values...)
}

// Get returns the values for key, in the order they were added. The
// returned slice must not be mutated by the caller.
func (md MD) Get(key string) []string {
	if md.pairs == nil {
		return nil
	}
	return md.pairs[lowerKey(key)]
}

// Delete removes key entirely.
func (md *MD) Delete(key string) {
	key = lowerKey(key)
	if md.pairs == nil {
		return
	}
	if _, ok := md.pairs[key]; !ok {
		return
	}
	delete(md.pairs, key)
	for i, k := range md.order {
		if k == key {
			md.order = append(md.order[:i], md.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of distinct keys.
func (md MD) Len() int {
	return len(md.pairs)
}

// Keys returns the distinct keys in insertion order.
func (md MD) Keys() []string {
	out := make([]string, len(md.order))
	copy(out, md.order)
	return out
}

// Copy returns a deep copy of md.
func (md MD) Copy() MD {
	out := MD{}
	for _, k := range md.order {
		out.Append(k, md.pairs[k]...)
	}
	return out
}

// Join merges any number of MDs into one, later values appended after
// earlier ones for a shared key, preserving first-seen key order.
func Join(mds ...MD) MD {
	out := MD{}
	for _, md := range mds {
		for _, k := range md.order {
			out.Append(k, md.pairs[k]...)
		}
	}
	return out
}

// Range calls f for every (key, values) pair in insertion order. f must not
// mutate md.
func (md MD) Range(f func(key string, values []string) bool) {
	for _, k := range md.order {
		if !f(k, md.pairs[k]) {
			return
		}
	}
}
