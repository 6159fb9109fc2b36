package architecture_test

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// allowedDomainImports is the dependency contract inside the domain layer:
// errors and validation are the shared kernel, assessment aggregates findings.
var allowedDomainImports = map[string][]string{
	"investigation": {"errors", "validation"},
	"finding":       {"errors", "validation"},
	"assessment":    {"finding"},
	"errors":        {},
	"validation":    {},
}

const modulePrefix = "github.com/fraudlens/investigation-backend/internal/domain/"

// TestDomainDependencyContract ensures domain packages only import their
// declared collaborators
func TestDomainDependencyContract(t *testing.T) {
	for pkg, allowed := range allowedDomainImports {
		t.Run(pkg, func(t *testing.T) {
			for _, file := range domainFiles(t, pkg) {
				for _, imp := range fileImports(t, file) {
					if !strings.HasPrefix(imp, modulePrefix) {
						continue
					}
					target := strings.TrimPrefix(imp, modulePrefix)
					if target == pkg {
						continue
					}
					if !contains(allowed, target) {
						t.Errorf("domain package %s imports %s (violation in %s)", pkg, target, file)
					}
				}
			}
		})
	}
}

// TestDomainNotDependOnInfrastructure ensures the domain layer stays free of
// transport, storage and service concerns
func TestDomainNotDependOnInfrastructure(t *testing.T) {
	forbiddenImports := []string{
		"database/sql",
		"github.com/jackc/pgx",
		"github.com/redis/go-redis",
		"github.com/lib/pq",
		"net/http",
		"github.com/gorilla/websocket",
		"github.com/prometheus/client_golang",
		"github.com/fraudlens/investigation-backend/internal/infrastructure",
		"github.com/fraudlens/investigation-backend/internal/service",
		"github.com/fraudlens/investigation-backend/internal/api",
	}

	for pkg := range allowedDomainImports {
		for _, file := range domainFiles(t, pkg) {
			for _, imp := range fileImports(t, file) {
				for _, forbidden := range forbiddenImports {
					if strings.HasPrefix(imp, forbidden) {
						t.Errorf("domain file %s imports infrastructure: %s", file, imp)
					}
				}
			}
		}
	}
}

// TestServiceLayerNotDependOnAPI ensures services never reach up into the
// HTTP or websocket layer
func TestServiceLayerNotDependOnAPI(t *testing.T) {
	files, err := filepath.Glob("../../internal/service/*/*.go")
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		for _, imp := range fileImports(t, file) {
			if strings.HasPrefix(imp, "github.com/fraudlens/investigation-backend/internal/api") {
				t.Errorf("service file %s imports the API layer: %s", file, imp)
			}
		}
	}
}

func domainFiles(t *testing.T, pkg string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("../../internal/domain", pkg, "*.go"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatalf("no source files for domain package %s", pkg)
	}
	out := files[:0]
	for _, f := range files {
		if !strings.HasSuffix(f, "_test.go") {
			out = append(out, f)
		}
	}
	return out
}

func fileImports(t *testing.T, path string) []string {
	t.Helper()
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, src, parser.ImportsOnly)
	if err != nil {
		t.Fatal(err)
	}

	imports := make([]string, 0, len(parsed.Imports))
	for _, imp := range parsed.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, `"`))
	}
	return imports
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
