package pkgindex

import (
	"os"
	"path/filepath"
	"testing"
)

func mkpkg(t *testing.T, root, name, manifestBody string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if manifestBody != "" {
		if err := os.WriteFile(filepath.Join(dir, "package.toml"), []byte(manifestBody), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestShadowing covers scenario S4 and invariant 5: a package present in two
// roots resolves to the lower-indexed (earlier) root's definition.
func TestShadowing(t *testing.T) {
	local := t.TempDir()
	builtin := t.TempDir()

	mkpkg(t, local, "demo", `depends = { x = {} }`)
	mkpkg(t, builtin, "demo", ``) // no dependencies

	idx, err := Load([]string{local, builtin})
	if err != nil {
		t.Fatal(err)
	}
	pkg := idx.Get("demo")
	if pkg == nil {
		t.Fatal("demo not found")
	}
	if pkg.Origin.RootPath != local {
		t.Errorf("demo resolved from %s, want %s (local shadows builtin)", pkg.Origin.RootPath, local)
	}
	if len(pkg.Manifest.DependsNames()) != 1 || pkg.Manifest.DependsNames()[0] != "x" {
		t.Errorf("demo.Depends = %v, want [x] (the local definition, not the built-in one)", pkg.Manifest.DependsNames())
	}
}

func TestListDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	mkpkg(t, root, "zeta", "")
	mkpkg(t, root, "alpha", "")
	mkpkg(t, root, "mid", "")

	idx, err := Load([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, p := range idx.List() {
		got = append(got, p.Name)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s (lexicographic within a root)", i, got[i], want[i])
		}
	}
}

func TestResolveNamespaced(t *testing.T) {
	root := t.TempDir()
	mkpkg(t, root, "crates-io", `package_manager = true`)

	idx, err := Load([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := idx.Resolve("crates-io.ripgrep")
	if err != nil {
		t.Fatal(err)
	}
	if !pkg.IsParameterized || pkg.Manager != "crates-io" || pkg.Parameter != "ripgrep" {
		t.Errorf("got %+v", pkg)
	}
	if pkg.Identity() != "crates-io.ripgrep" {
		t.Errorf("Identity() = %s", pkg.Identity())
	}
}

func TestResolveNamespacedNonManagerIsError(t *testing.T) {
	root := t.TempDir()
	mkpkg(t, root, "plain", "")

	idx, err := Load([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Resolve("plain.foo"); err == nil {
		t.Fatal("expected error: plain is not a package-manager package")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	idx, err := Load([]string{t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Get("nope") != nil {
		t.Fatal("expected nil")
	}
}
