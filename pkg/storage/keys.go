package storage

import (
	"fmt"
	"strings"
)

// Key schema (both stores share the layout, never the same database):
//
//   wallet:   nym:<nym>  acct:<account>  contact:<name>  meta:<name>
//             offers:<nym>:<server>:<tx>  pay:<nym>:<index>  rec:<nym>:<index>
//   notary:   nym:<nym>  nymacct:<nym>:<account>  acct:<account>  num:<nym>:<number>
//             offer:<tx>  contract:<id>  pay:<nym>:<seq>  inbox:<account>:<seq>  meta:counters
//
// Numeric components are zero-padded so prefix scans return them in order.

// Key joins components with ':'.
func Key(parts ...string) []byte {
	return []byte(strings.Join(parts, ":"))
}

// Prefix is Key with a trailing separator, for scans.
func Prefix(parts ...string) []byte {
	return []byte(strings.Join(parts, ":") + ":")
}

// Num renders an integer key component with fixed width.
func Num(n int64) string {
	return fmt.Sprintf("%020d", n)
}

// LastComponent returns the part of key after the final ':'.
func LastComponent(key []byte) string {
	s := string(key)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix was all 0xff: no upper bound
}
