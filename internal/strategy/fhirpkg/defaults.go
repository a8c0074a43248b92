package fhirpkg

import (
	"path/filepath"

	"termsync/pkg/domain"
)

// TerminologyPackage is the registry package the HL7 terminology and the
// small standard code systems are imported from.
const TerminologyPackage = "hl7.terminology.r4"

// Defaults returns the package configurations keyed by terminology name.
// Each terminology downloads into root/<name>.
func Defaults(root, registry string) map[string]Config {
	cfg := func(name string, urls ...string) Config {
		return Config{
			Terminology: name,
			Package:     TerminologyPackage,
			Registry:    registry,
			WorkDir:     filepath.Join(root, name),
			URLs:        urls,
		}
	}
	return map[string]Config{
		domain.TerminologyHL7:     cfg(domain.TerminologyHL7),
		domain.TerminologyUCUM:    cfg(domain.TerminologyUCUM, "http://unitsofmeasure.org"),
		domain.TerminologyBCP13:   cfg(domain.TerminologyBCP13, "urn:ietf:bcp:13"),
		domain.TerminologyBCP47:   cfg(domain.TerminologyBCP47, "urn:ietf:bcp:47"),
		domain.TerminologyISO3166: cfg(domain.TerminologyISO3166, "urn:iso:std:iso:3166"),
	}
}
