// Package domain defines the terminology catalog, import request and status
// value types, and the error taxonomy shared by the syndication engine.
package domain

import "strings"

// Canonical terminology names. Lookups through Catalog.Resolve are
// case-insensitive; stored status rows always use these spellings.
const (
	TerminologyICPC2   = "icpc2"
	TerminologyICD10   = "icd-10"
	TerminologyICD10BE = "icd-10-be"
	TerminologyLOINC   = "loinc"
	TerminologyHL7     = "hl7"
	TerminologySNOMED  = "snomed"
	TerminologyATC     = "atc"
	TerminologyUCUM    = "ucum"
	TerminologyBCP13   = "bcp13"
	TerminologyBCP47   = "bcp47"
	TerminologyISO3166 = "iso3166"
	TerminologyM49     = "m49"
)

// Terminology is an immutable catalog entry describing one syndicated
// vocabulary and its import policy.
type Terminology struct {
	Name string `json:"name"`
	// ImportByDefault marks the terminology as eligible for unattended startup import.
	ImportByDefault bool `json:"import_by_default"`
	// RequiresFiles is false for synthetic content generated without upstream packages.
	RequiresFiles bool `json:"requires_files"`
	// AlwaysReimport skips the idempotency check entirely.
	AlwaysReimport bool `json:"always_reimport"`
}

// Catalog is the static registry of supported terminologies. Entries keep
// their declaration order; the zero value is empty.
type Catalog struct {
	entries []Terminology
	byName  map[string]Terminology
}

// NewCatalog builds a catalog from the provided entries. Later duplicates
// (compared case-insensitively) replace earlier ones in place.
func NewCatalog(entries ...Terminology) *Catalog {
	c := &Catalog{byName: make(map[string]Terminology, len(entries))}
	for _, t := range entries {
		key := strings.ToLower(t.Name)
		if _, dup := c.byName[key]; dup {
			for i := range c.entries {
				if strings.EqualFold(c.entries[i].Name, t.Name) {
					c.entries[i] = t
				}
			}
		} else {
			c.entries = append(c.entries, t)
		}
		c.byName[key] = t
	}
	return c
}

var defaultCatalog = NewCatalog(
	Terminology{Name: TerminologyICPC2, RequiresFiles: true},
	Terminology{Name: TerminologyICD10, RequiresFiles: true},
	Terminology{Name: TerminologyICD10BE, RequiresFiles: true},
	Terminology{Name: TerminologyLOINC, RequiresFiles: true},
	Terminology{Name: TerminologyHL7, RequiresFiles: true},
	Terminology{Name: TerminologySNOMED, RequiresFiles: true},
	Terminology{Name: TerminologyATC, RequiresFiles: true},
	Terminology{Name: TerminologyUCUM, ImportByDefault: true, RequiresFiles: true, AlwaysReimport: true},
	Terminology{Name: TerminologyBCP13, ImportByDefault: true, RequiresFiles: true},
	Terminology{Name: TerminologyBCP47, ImportByDefault: true, RequiresFiles: true},
	Terminology{Name: TerminologyISO3166, ImportByDefault: true, RequiresFiles: true},
	Terminology{Name: TerminologyM49, ImportByDefault: true},
)

// DefaultCatalog returns the built-in terminology table.
func DefaultCatalog() *Catalog { return defaultCatalog }

// Resolve returns the entry whose name equals name ignoring case.
func (c *Catalog) Resolve(name string) (Terminology, error) {
	if c != nil {
		if t, ok := c.byName[strings.ToLower(name)]; ok {
			return t, nil
		}
	}
	return Terminology{}, UnknownTerminologyError{Name: name}
}

// All returns every entry in declaration order.
func (c *Catalog) All() []Terminology {
	if c == nil {
		return nil
	}
	out := make([]Terminology, len(c.entries))
	copy(out, c.entries)
	return out
}

// Defaults returns the entries eligible for unattended import.
func (c *Catalog) Defaults() []Terminology {
	var out []Terminology
	for _, t := range c.All() {
		if t.ImportByDefault {
			out = append(out, t)
		}
	}
	return out
}
