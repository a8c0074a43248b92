package release

import (
	"strings"
)

const snomedBase = "http://snomed.info/sct/"

// Edition is one SNOMED CT edition: the extension code used in requests,
// the module that owns its content and the prefixes its release archives
// carry after "SnomedCT_".
type Edition struct {
	Code     string
	Module   string
	Releases []string
}

// Editions resolves SNOMED CT editions by extension code, module id or
// release archive name.
type Editions []Edition

// SnomedEditions lists the editions recognised in requests and archive names.
var SnomedEditions = Editions{
	{Code: "INT", Module: DefaultSnomedModule, Releases: []string{"International"}},
	{Code: "BE", Module: "11000172109", Releases: []string{"Belgium", "ManagedServiceBE"}},
	{Code: "NL", Module: "11000146104", Releases: []string{"Netherlands", "ManagedServiceNL"}},
	{Code: "SE", Module: "45991000052106", Releases: []string{"Sweden", "ManagedServiceSE"}},
	{Code: "DK", Module: "554471000005108", Releases: []string{"Denmark", "ManagedServiceDK"}},
	{Code: "NO", Module: "51000202101", Releases: []string{"Norway", "ManagedServiceNO"}},
	{Code: "IE", Module: "11000220105", Releases: []string{"Ireland", "ManagedServiceIE"}},
	{Code: "US", Module: "731000124108", Releases: []string{"USEdition", "ManagedServiceUS"}},
}

// ForCode returns the edition with the given extension code, ignoring case.
func (es Editions) ForCode(code string) (Edition, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Edition{}, false
	}
	for _, e := range es {
		if strings.EqualFold(e.Code, code) {
			return e, true
		}
	}
	return Edition{}, false
}

// ForFile returns the edition a release archive belongs to, judged by the
// name segment following "SnomedCT_".
func (es Editions) ForFile(name string) (Edition, bool) {
	rest, ok := strings.CutPrefix(name, "SnomedCT_")
	if !ok {
		return Edition{}, false
	}
	segment, _, _ := strings.Cut(rest, "_")
	for _, e := range es {
		for _, prefix := range e.Releases {
			if strings.HasPrefix(segment, prefix) {
				return e, true
			}
		}
	}
	return Edition{}, false
}

// EditionURI returns the version URI naming the latest release of module.
func EditionURI(module string) string {
	return snomedBase + module + "/"
}

// ParseEditionURI splits http://snomed.info/sct/<module>/ and
// http://snomed.info/sct/<module>/version/<date> into module and date. The
// date is empty for the first form.
func ParseEditionURI(v string) (module, date string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(v), snomedBase)
	if !found {
		return "", "", false
	}
	module, rest, _ = strings.Cut(rest, "/")
	if module == "" || strings.Trim(module, "0123456789") != "" {
		return "", "", false
	}
	if rest == "" {
		return module, "", true
	}
	date, found = strings.CutPrefix(rest, "version/")
	date = strings.TrimSuffix(date, "/")
	if !found || date == "" {
		return "", "", false
	}
	return module, date, true
}
