package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"lukechampine.com/blake3"
)

// StringList is a JSON value that may be written either as a single string
// or as a list of strings. Hand-written filter files tend to use the single
// form for one-element lists.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*s = StringList(many)
		return nil
	}
	return fmt.Errorf("expected a string or a list of strings, got %s", data)
}

func (s StringList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// RemoveSpec is the "rm" half of an operation: either a list of tags to
// remove, or the literal true to remove every tag on the message.
type RemoveSpec struct {
	All  bool
	Tags StringList
}

func (r *RemoveSpec) UnmarshalJSON(data []byte) error {
	var all bool
	if err := json.Unmarshal(data, &all); err == nil {
		r.All = all
		r.Tags = nil
		return nil
	}
	var tags StringList
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("expected true, a string or a list of strings, got %s", data)
	}
	r.All = false
	r.Tags = tags
	return nil
}

func (r RemoveSpec) MarshalJSON() ([]byte, error) {
	if r.All {
		return json.Marshal(true)
	}
	return json.Marshal(r.Tags)
}

// Operation describes what happens when a filter matches: tags removed, tags
// added, an optional external command, and optional message deletion. Tag
// removal happens before addition, so a tag listed in both ends up present.
// The command runs before deletion.
type Operation struct {
	Rm  RemoveSpec `json:"rm,omitempty"`
	Add StringList `json:"add,omitempty"`
	Run []string   `json:"run,omitempty"`
	Del bool       `json:"del,omitempty"`
}

// Rule maps field selectors to patterns. All entries of one rule must match
// (AND); multiple patterns under one selector must all match too.
type Rule map[string]StringList

// Filter is a named group of rules plus one operation. A filter matches a
// message if any of its rules matches (OR across rules).
type Filter struct {
	Name  string    `json:"name"`
	Desc  string    `json:"desc,omitempty"`
	Rules []Rule    `json:"rules"`
	Op    Operation `json:"op"`

	// pred is populated by Compile and shared read-only across workers.
	pred *predicate
}

// DisplayName returns the filter's name, falling back to a hash of its rule
// definitions when no name was set. Hashed names are stable across runs for
// identical rules.
func (f *Filter) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return hashRules(f.Rules)
}

// hashRules derives a short stable identifier from the rule definitions.
// encoding/json sorts map keys, so the serialization is canonical.
func hashRules(rules []Rule) string {
	buf, err := json.Marshal(rules)
	if err != nil {
		return "unnamed"
	}
	sum := blake3.Sum256(buf)
	return fmt.Sprintf("%x", sum[:8])
}

// LoadFilters reads a JSON array of filter definitions. Unknown keys are
// rejected so that typos in hand-written files fail loudly instead of
// silently never matching.
func LoadFilters(r io.Reader) ([]*Filter, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var filters []*Filter
	if err := dec.Decode(&filters); err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return nil, err
		}
	}
	return filters, nil
}

// LoadFiltersFile reads filter definitions from a file.
func LoadFiltersFile(path string) ([]*Filter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening filter file: %w", err)
	}
	defer file.Close()
	return LoadFilters(file)
}

func validateFilter(f *Filter) error {
	if f == nil {
		return &ConfigError{Reason: "null filter entry"}
	}
	name := f.DisplayName()
	if len(f.Rules) == 0 {
		return &ConfigError{Filter: name, Reason: "no rules"}
	}
	for _, rule := range f.Rules {
		if len(rule) == 0 {
			return &ConfigError{Filter: name, Reason: "empty rule would match every message"}
		}
		for selector, patterns := range rule {
			if selector == "" {
				return &ConfigError{Filter: name, Reason: "empty field selector"}
			}
			if selector[0] == '@' && !reservedSelector(selector) {
				return &ConfigError{Filter: name, Reason: fmt.Sprintf("unknown selector %q", selector)}
			}
			if len(patterns) == 0 {
				return &ConfigError{Filter: name, Reason: fmt.Sprintf("no patterns for %q", selector)}
			}
		}
	}
	if f.Op.Run != nil && len(f.Op.Run) == 0 {
		return &ConfigError{Filter: name, Reason: "run operation without an executable"}
	}
	return nil
}

// sortedSelectors returns a rule's selectors in deterministic order so that
// compiled predicate trees do not depend on map iteration.
func sortedSelectors(rule Rule) []string {
	keys := make([]string, 0, len(rule))
	for k := range rule {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
