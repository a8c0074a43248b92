// Package content persists parsed terminology packages: the seam concrete
// strategies hand imported code systems to. Each package version is one JSON
// document in blob storage at <terminology>/<version>.json.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"

	"termsync/internal/blob"
	"termsync/internal/logging"
)

// Concept is one code of a code system, flattened with its parent code.
type Concept struct {
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
	Parent  string `json:"parent,omitempty"`
}

// CodeSystem is the persisted form of a FHIR CodeSystem.
type CodeSystem struct {
	URL      string    `json:"url"`
	Concepts []Concept `json:"concepts"`
}

// Package is the parsed content of one terminology version.
type Package struct {
	Terminology string       `json:"terminology"`
	Version     string       `json:"version"`
	CodeSystems []CodeSystem `json:"code_systems"`
}

// Handle identifies a stored package version.
type Handle struct {
	Terminology string    `json:"terminology"`
	Version     string    `json:"version"`
	Key         string    `json:"key"`
	ETag        string    `json:"etag,omitempty"`
	Stored      time.Time `json:"stored"`
}

// Writer is the part of Store strategies import through.
type Writer interface {
	CreateOrReplace(ctx context.Context, pkg Package) (Handle, error)
}

var _ Writer = (*Store)(nil)

// Store reads and writes packages through a blob.Store.
type Store struct {
	blobs  blob.Store
	logger logging.Logger
}

// NewStore wraps blobs. A nil logger discards output.
func NewStore(blobs blob.Store, logger logging.Logger) *Store {
	return &Store{blobs: blobs, logger: logging.OrNop(logger)}
}

// Key returns the blob key for a terminology version.
func Key(terminology, version string) string {
	return terminology + "/" + url.PathEscape(version) + ".json"
}

// CreateOrReplace stores pkg, replacing any existing copy of the same
// terminology version.
func (s *Store) CreateOrReplace(ctx context.Context, pkg Package) (Handle, error) {
	if strings.TrimSpace(pkg.Terminology) == "" || strings.TrimSpace(pkg.Version) == "" {
		return Handle{}, errors.New("content: terminology and version required")
	}
	raw, err := json.Marshal(pkg)
	if err != nil {
		return Handle{}, fmt.Errorf("encode %s %s: %w", pkg.Terminology, pkg.Version, err)
	}
	key := Key(pkg.Terminology, pkg.Version)
	replaced, err := s.blobs.Delete(ctx, key)
	if err != nil {
		return Handle{}, fmt.Errorf("replace %s: %w", key, err)
	}
	info, err := s.blobs.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"terminology": pkg.Terminology, "version": pkg.Version},
	})
	if err != nil {
		return Handle{}, fmt.Errorf("store %s: %w", key, err)
	}
	s.logger.Info("stored terminology content", "terminology", pkg.Terminology, "actual_version", pkg.Version,
		"code_systems", len(pkg.CodeSystems), "replaced", replaced)
	return Handle{Terminology: pkg.Terminology, Version: pkg.Version, Key: key, ETag: info.ETag, Stored: info.LastModified}, nil
}

// Delete removes the package behind h. Deleting a missing package is not an error.
func (s *Store) Delete(ctx context.Context, h Handle) error {
	key := h.Key
	if key == "" {
		key = Key(h.Terminology, h.Version)
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Load reads a stored package.
func (s *Store) Load(ctx context.Context, terminology, version string) (Package, error) {
	key := Key(terminology, version)
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return Package{}, err
	}
	defer func() { _ = rc.Close() }()
	var pkg Package
	if err := json.NewDecoder(rc).Decode(&pkg); err != nil {
		return Package{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return pkg, nil
}

// Versions lists the stored versions of a terminology.
func (s *Store) Versions(ctx context.Context, terminology string) ([]Handle, error) {
	infos, err := s.blobs.List(ctx, terminology+"/")
	if err != nil {
		return nil, err
	}
	out := make([]Handle, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimSuffix(strings.TrimPrefix(info.Key, terminology+"/"), ".json")
		version, err := url.PathUnescape(name)
		if err != nil {
			version = name
		}
		out = append(out, Handle{Terminology: terminology, Version: version, Key: info.Key, ETag: info.ETag, Stored: info.LastModified})
	}
	return out, nil
}

// FromR4 flattens a FHIR R4 CodeSystem. Concepts without a code are skipped.
func FromR4(cs *r4.CodeSystem) (CodeSystem, error) {
	if cs == nil || cs.Url == nil || *cs.Url == "" {
		return CodeSystem{}, errors.New("content: code system has no url")
	}
	out := CodeSystem{URL: *cs.Url}
	var walk func(concepts []r4.CodeSystemConcept, parent string)
	walk = func(concepts []r4.CodeSystemConcept, parent string) {
		for i := range concepts {
			c := &concepts[i]
			if c.Code == nil {
				continue
			}
			concept := Concept{Code: *c.Code, Parent: parent}
			if c.Display != nil {
				concept.Display = *c.Display
			}
			out.Concepts = append(out.Concepts, concept)
			walk(c.Concept, *c.Code)
		}
	}
	walk(cs.Concept, "")
	return out, nil
}
