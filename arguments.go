package provara

import "strings"

// Arguments is an ordered list of string values with set-style queries. It
// backs grant types, response types, and scope lists on requests and clients.
type Arguments []string

// Has reports whether every item is present
func (a Arguments) Has(items ...string) bool {
	for _, item := range items {
		if !a.has(item) {
			return false
		}
	}
	return len(items) > 0
}

// HasOneOf reports whether at least one item is present
func (a Arguments) HasOneOf(items ...string) bool {
	for _, item := range items {
		if a.has(item) {
			return true
		}
	}
	return false
}

// ExactOne reports whether the arguments consist of exactly the single given value
func (a Arguments) ExactOne(value string) bool {
	return len(a) == 1 && a[0] == value
}

// Matches reports whether the arguments contain exactly the given items,
// ignoring order and duplicates on either side.
func (a Arguments) Matches(items ...string) bool {
	found := make(map[string]bool, len(items))
	for _, item := range items {
		if !a.has(item) {
			return false
		}
		found[item] = true
	}

	for _, arg := range a {
		if !found[arg] {
			return false
		}
	}
	return true
}

func (a Arguments) has(item string) bool {
	for _, arg := range a {
		if arg == item {
			return true
		}
	}
	return false
}

// String joins the arguments with single spaces, the OAuth wire encoding for
// scope lists.
func (a Arguments) String() string {
	return strings.Join(a, " ")
}

// SplitArguments parses a space-delimited parameter value into Arguments,
// dropping empty segments.
func SplitArguments(value string) Arguments {
	return Arguments(strings.Fields(value))
}
