// Package arch resolves instruction set names to listing languages.
package arch

import (
	"fmt"
	"slices"
	"strings"

	"mipstash/internal/arch/allegrex"
	"mipstash/internal/arch/arm64"
	"mipstash/internal/listing"
)

var languages = map[string]func() listing.Language{
	"allegrex": func() listing.Language { return allegrex.New() },
	"mipsel":   func() listing.Language { return allegrex.New() },
	"mips":     func() listing.Language { return allegrex.NewBigEndian() },
	"arm64":    func() listing.Language { return arm64.New() },
	"aarch64":  func() listing.Language { return arm64.New() },
}

// Lookup returns the language registered under name.
func Lookup(name string) (listing.Language, error) {
	newLang, ok := languages[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return newLang(), nil
}

// Names lists the registered architecture names.
func Names() []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
