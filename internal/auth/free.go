package auth

import "regexp"

// freeTagPattern matches the 1-64 character tag allowed after "FreeTier "
// (spec.md §4.1).
var freeTagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
