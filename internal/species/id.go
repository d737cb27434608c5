// Package species resolves scientific names to durable, enriched
// species records. The store is the cross-process cache: a resolved
// name costs zero outbound calls on every later sighting.
package species

import (
	"strings"
	"sync"

	"github.com/gnames/gnparser"
	"github.com/gnames/gnuuid"
)

var (
	parserOnce sync.Once
	parserMu   sync.Mutex
	parser     gnparser.GNparser
)

// Canonicalize returns the canonical form of a scientific name: the
// gnparser simple canonical when the name parses, otherwise the
// whitespace-collapsed, lowercased input.
func Canonicalize(name string) string {
	trimmed := strings.Join(strings.Fields(name), " ")
	if trimmed == "" {
		return ""
	}

	parserOnce.Do(func() {
		parser = gnparser.New(gnparser.NewConfig())
	})
	parserMu.Lock()
	p := parser.ParseName(trimmed)
	parserMu.Unlock()

	if p.Parsed && p.Canonical != nil && p.Canonical.Simple != "" {
		return p.Canonical.Simple
	}
	return strings.ToLower(trimmed)
}

// CanonicalID derives the deterministic species identifier: a UUID v5
// of the canonical name. The same name yields the same id in every
// process, which is what makes insert-or-ignore upserts race-free.
func CanonicalID(name string) (id, canonical string) {
	canonical = Canonicalize(name)
	if canonical == "" {
		return "", ""
	}
	return gnuuid.New(canonical).String(), canonical
}
