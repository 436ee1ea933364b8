// Package orderkey implements fractional ordering keys.
//
// Keys are base-36 strings compared byte-wise. A new key can always be placed
// between two existing ones, so reordering never renumbers siblings. Keys grow
// when the same gap is split repeatedly; there is no length limit.
//
// Valid keys are non-empty, use only the digits 0-9a-z and never end in '0'
// (a trailing zero would leave no room directly below the key).
package orderkey

import (
	"strings"

	"flowtrack/internal/apperr"
)

const digits = "0123456789abcdefghijklmnopqrstuvwxyz"

const base = len(digits)

// Initial returns the first key issued in an empty list, in the middle of the key space.
func Initial() string {
	return string(digits[base/2])
}

// Next returns a key sorting after key.
func Next(key string) (string, error) {
	if err := Validate(key); err != nil {
		return "", err
	}
	return midpoint(key, ""), nil
}

// Previous returns a key sorting before key.
func Previous(key string) (string, error) {
	if err := Validate(key); err != nil {
		return "", err
	}
	return midpoint("", key), nil
}

// Between returns a key k with a < k < b.
func Between(a, b string) (string, error) {
	if err := Validate(a); err != nil {
		return "", err
	}
	if err := Validate(b); err != nil {
		return "", err
	}
	if a == b {
		return "", apperr.InvalidArgument("order keys are equal: %q", a)
	}
	if a > b {
		return "", apperr.InvalidArgument("order keys out of order: %q > %q", a, b)
	}
	return midpoint(a, b), nil
}

// ForPosition returns the key for an item inserted at index among sorted keys.
// keys must not contain the item being moved. index is clamped to [0, len(keys)].
func ForPosition(keys []string, index int) (string, error) {
	if index < 0 {
		index = 0
	}
	if index > len(keys) {
		index = len(keys)
	}
	switch {
	case len(keys) == 0:
		return Initial(), nil
	case index == 0:
		return Previous(keys[0])
	case index == len(keys):
		return Next(keys[len(keys)-1])
	default:
		return Between(keys[index-1], keys[index])
	}
}

// Validate checks that key is usable as an order key.
func Validate(key string) error {
	if key == "" {
		return apperr.InvalidArgument("order key is empty")
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(digits, key[i]) < 0 {
			return apperr.InvalidArgument("order key %q contains invalid character %q", key, key[i])
		}
	}
	if key[len(key)-1] == digits[0] {
		return apperr.InvalidArgument("order key %q ends with %q", key, digits[0])
	}
	return nil
}

// midpoint returns a key strictly between a and b. An empty a means the start of
// the key space; an empty b means its end.
func midpoint(a, b string) string {
	if b != "" {
		// Skip the common prefix, reading missing digits of a as zero.
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(a) {
				rest = a[n:]
			}
			return b[:n] + midpoint(rest, b[n:])
		}
	}

	lo := 0
	if a != "" {
		lo = strings.IndexByte(digits, a[0])
	}
	hi := base
	if b != "" {
		hi = strings.IndexByte(digits, b[0])
	}

	if hi-lo > 1 {
		return string(digits[(lo+hi)/2])
	}
	if b != "" && len(b) > 1 {
		return b[:1]
	}
	rest := ""
	if len(a) > 1 {
		rest = a[1:]
	}
	return string(digits[lo]) + midpoint(rest, "")
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return digits[0]
}
