package release

import (
	"path/filepath"
	"regexp"

	"termsync/pkg/domain"
)

// DefaultSnomedModule is the edition module recorded in SNOMED CT versions
// when none is configured.
const DefaultSnomedModule = "900000000000207008"

const fhirEndpoint = "http://localhost:8080/fhir"

// Defaults returns the release configurations keyed by terminology name.
// Each terminology works inside root/<name>. The latest_* scripts print the
// file name of the newest published release, one per line.
func Defaults(root, snomedModule string) map[string]Config {
	if snomedModule == "" {
		snomedModule = DefaultSnomedModule
	}
	dir := func(name string) string { return filepath.Join(root, name) }
	upload := func(system string) []string {
		return []string{"./hapi-fhir-cli", "upload-terminology", "-d", "{file}", "-v", "r4", "-t", fhirEndpoint, "-u", system}
	}
	return map[string]Config{
		domain.TerminologyLOINC: {
			Label:           "Loinc",
			WorkDir:         dir(domain.TerminologyLOINC),
			FilePattern:     regexp.MustCompile(`^Loinc_\d+\.\d+.*\.zip$`),
			Download:        []string{"node", "./download_loinc.mjs", "{version}"},
			Import:          upload("http://loinc.org"),
			LatestURL:       "https://loinc.org/downloads/",
			LatestPattern:   regexp.MustCompile(`Loinc[_-]([0-9]+\.[0-9]+)`),
			VersionPattern:  regexp.MustCompile(`^Loinc_(\d+\.\d+)(?:-[^.]+)?\.zip$`),
			VersionTemplate: "$1",
		},
		domain.TerminologySNOMED: {
			Label:           "Snomed",
			WorkDir:         dir(domain.TerminologySNOMED),
			FilePattern:     regexp.MustCompile(`^SnomedCT_.*\.zip$`),
			Download:        []string{"./download_snomed.sh", "{version}", "{extension}", "{module}"},
			Import:          []string{"./import_snomed.sh", "{file}", "{extension}"},
			LatestCommand:   []string{"./latest_snomed.sh", "{module}"},
			VersionPattern:  regexp.MustCompile(`^SnomedCT_\w+?_(\d{8})(?:T\d{6}Z)?\.zip$`),
			VersionTemplate: snomedBase + "{module}/version/$1",
			Editions:        SnomedEditions,
			DefaultModule:   snomedModule,
		},
		domain.TerminologyICD10: {
			Label:           "ICD-10",
			WorkDir:         dir(domain.TerminologyICD10),
			FilePattern:     regexp.MustCompile(`^icd10.*\.zip$`),
			Download:        []string{"./download_icd10.sh", "{version}"},
			Import:          upload("http://hl7.org/fhir/sid/icd-10"),
			LatestCommand:   []string{"./latest_icd10.sh"},
			VersionPattern:  regexp.MustCompile(`^icd10\D*(\d{4})\D*\.zip$`),
			VersionTemplate: "$1",
		},
		domain.TerminologyICD10BE: {
			Label:           "ICD-10-BE",
			WorkDir:         dir(domain.TerminologyICD10BE),
			FilePattern:     regexp.MustCompile(`^ICD10BE.*\.xlsx$`),
			Download:        []string{"./download_icd10be.sh", "{version}"},
			Import:          []string{"./import_icd10be.sh", "{file}"},
			LatestCommand:   []string{"./latest_icd10be.sh"},
			VersionPattern:  regexp.MustCompile(`^ICD10BE\D*(\d{4}(?:-\d{2})?)\D*\.xlsx$`),
			VersionTemplate: "$1",
		},
		domain.TerminologyICPC2: {
			Label:           "ICPC-2",
			WorkDir:         dir(domain.TerminologyICPC2),
			FilePattern:     regexp.MustCompile(`^icpc2.*\.zip$`),
			Download:        []string{"./download_icpc2.sh", "{version}"},
			Import:          []string{"./import_icpc2.sh", "{file}", "{loinc}"},
			LatestCommand:   []string{"./latest_icpc2.sh"},
			VersionPattern:  regexp.MustCompile(`^icpc2[_-]?(.+)\.zip$`),
			VersionTemplate: "$1",
		},
		domain.TerminologyATC: {
			Label:           "ATC",
			WorkDir:         dir(domain.TerminologyATC),
			FilePattern:     regexp.MustCompile(`^ATC.*\.csv$`),
			Download:        []string{"./download_atc.sh", "{version}"},
			Import:          []string{"./import_atc.sh", "{file}"},
			LatestCommand:   []string{"./latest_atc.sh"},
			VersionPattern:  regexp.MustCompile(`^ATC[_-]?(\d{4}(?:-\d{2}-\d{2})?)\.csv$`),
			VersionTemplate: "$1",
		},
	}
}
