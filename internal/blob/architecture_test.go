package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyBlobPackageImportsInfra keeps the infra backends behind package
// blob: everything else must depend on blob.Store.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	const (
		infraPrefix   = "termsync/internal/infra/blob"
		allowedPrefix = "termsync/internal/blob"
	)
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "termsync/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	violations := make(map[string]struct{})
	for _, pkg := range pkgs {
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) || strings.HasPrefix(pkg.PkgPath, infraPrefix) {
			continue
		}
		for imp := range pkg.Imports {
			if imp == infraPrefix || strings.HasPrefix(imp, infraPrefix+"/") {
				violations[pkg.PkgPath+" -> "+imp] = struct{}{}
			}
		}
	}
	if len(violations) == 0 {
		return
	}
	list := make([]string, 0, len(violations))
	for v := range violations {
		list = append(list, v)
	}
	sort.Strings(list)
	for _, v := range list {
		t.Errorf("forbidden import of infra blob package: %s", v)
	}
}
