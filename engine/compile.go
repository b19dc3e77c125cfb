package engine

import (
	"regexp"
)

type predicateKind int

const (
	predLeaf predicateKind = iota
	predAnd
	predOr
)

// predicate is a compiled, immutable matching tree: Or of per-rule And
// nodes, with one leaf per (selector, pattern) pair. Trees are built once
// per ruleset load and shared read-only across concurrent evaluations.
type predicate struct {
	kind     predicateKind
	children []*predicate

	// leaf only
	selector string
	pattern  string
	re       *regexp.Regexp
}

// Compile builds the predicate tree for every filter. It fails fast: the
// first invalid pattern aborts the whole ruleset with a PatternError naming
// the filter, the field selector and the offending pattern, before any
// message is processed.
func Compile(filters []*Filter) error {
	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return err
		}
		pred, err := compileFilter(f)
		if err != nil {
			return err
		}
		f.pred = pred
	}
	return nil
}

func compileFilter(f *Filter) (*predicate, error) {
	or := &predicate{kind: predOr, children: make([]*predicate, 0, len(f.Rules))}
	for _, rule := range f.Rules {
		and := &predicate{kind: predAnd}
		for _, selector := range sortedSelectors(rule) {
			for _, pattern := range rule[selector] {
				// Patterns are partial matches, case-insensitive unless the
				// pattern opts out itself.
				re, err := regexp.Compile("(?i)" + pattern)
				if err != nil {
					return nil, &PatternError{
						Filter:  f.DisplayName(),
						Field:   selector,
						Pattern: pattern,
						Err:     err,
					}
				}
				and.children = append(and.children, &predicate{
					kind:     predLeaf,
					selector: selector,
					pattern:  pattern,
					re:       re,
				})
			}
		}
		or.children = append(or.children, and)
	}
	return or, nil
}
