package apath

import "path"

// matchGlob wraps path.Match. A malformed pattern yields false together
// with path.ErrBadPattern; Excluder.Match ignores the error, so such a
// pattern never matches.
func matchGlob(pattern, name string) (bool, error) {
	ok, err := path.Match(pattern, name)
	if err != nil {
		return false, err
	}
	return ok, nil
}
