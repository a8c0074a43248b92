package domain

import (
	"fmt"
	"strings"
)

// Version literals understood by every strategy. Any other value is an
// explicit, terminology-specific version string.
const (
	VersionLatest = "latest"
	VersionLocal  = "local"
)

// ImportRequest is the inbound shape of one caller invocation. The secret is
// validated before the request reaches the engine.
type ImportRequest struct {
	TerminologyName   string `json:"terminologyName"`
	Version           string `json:"version,omitempty"`
	ExtensionName     string `json:"extensionName,omitempty"`
	SyndicationSecret string `json:"syndicationSecret,omitempty"`
}

// NormalizedVersion maps a blank requested version to VersionLatest.
func (r ImportRequest) NormalizedVersion() string {
	if strings.TrimSpace(r.Version) == "" {
		return VersionLatest
	}
	return r.Version
}

// ImportParams is the resolved, immutable input handed to a strategy.
type ImportParams struct {
	Terminology         Terminology
	Version             string
	ExtensionName       string
	LoincAlreadyPresent bool
}

// IsLocal reports whether the params target a locally supplied package.
func (p ImportParams) IsLocal() bool { return p.Version == VersionLocal }

// IsLatest reports whether the params ask for the newest published release.
func (p ImportParams) IsLatest() bool { return p.Version == VersionLatest }

func (p ImportParams) String() string {
	return fmt.Sprintf("terminology=%s version=%s extension=%s loinc_present=%t",
		p.Terminology.Name, p.Version, p.ExtensionName, p.LoincAlreadyPresent)
}
