// Package listing models a program under analysis: initialized memory,
// decoded instructions, the references between them and labels.
//
// A Program is not safe for concurrent use.
package listing

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a location in the program's single linear address space.
type Address uint64

// Add returns a+n. It wraps on overflow.
func (a Address) Add(n int64) Address {
	return Address(int64(a) + n)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint64(a))
}

// ParseAddress parses a hexadecimal (0x-prefixed) or decimal address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address(v), nil
}
