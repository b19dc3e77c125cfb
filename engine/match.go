package engine

// Match reports whether the filter's compiled predicate matches the message
// view. Compile must have been called first.
func (f *Filter) Match(v *View) (bool, error) {
	if f.pred == nil {
		return false, ErrNotCompiled
	}
	return f.pred.eval(v)
}

// eval walks the predicate tree with short-circuiting. Resolution is pure,
// so child order carries no semantics.
func (p *predicate) eval(v *View) (bool, error) {
	switch p.kind {
	case predLeaf:
		values, err := resolveField(v, p.selector)
		if err != nil {
			return false, &ResolveError{Selector: p.selector, Err: err}
		}
		for _, value := range values {
			if p.re.MatchString(value) {
				return true, nil
			}
		}
		// No values to satisfy the pattern.
		return false, nil

	case predAnd:
		for _, child := range p.children {
			ok, err := child.eval(v)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	default: // predOr
		for _, child := range p.children {
			ok, err := child.eval(v)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}
