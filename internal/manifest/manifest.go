// Package manifest parses a package's package.toml: its declared
// dependencies, whether it is a package-manager (parameterized-build)
// package, and free-form origin attribution.
package manifest

import (
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// DepOptions is reserved for future per-dependency options; today it is
// always an empty table, e.g. `depends = { libfoo = {} }`.
type DepOptions struct{}

// Manifest is the parsed contents of one package's package.toml. An empty
// file is valid and parses to the zero Manifest.
type Manifest struct {
	Depends        map[string]DepOptions `toml:"depends"`
	BuildDepends   map[string]DepOptions `toml:"build_depends"`
	PackageManager bool                  `toml:"package_manager"`
	Origin         string                `toml:"origin"`
}

// DependsNames returns the Depends keys as a sorted slice, for iteration
// order independent of the map.
func (m Manifest) DependsNames() []string {
	return namesOf(m.Depends)
}

// BuildDependsNames returns the BuildDepends keys as a sorted slice.
func (m Manifest) BuildDependsNames() []string {
	return namesOf(m.BuildDepends)
}

func namesOf(m map[string]DepOptions) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse reads and parses the package.toml at path. Unknown keys are
// rejected, same as the top-level configuration file.
func Parse(path string) (Manifest, error) {
	var m Manifest
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// No manifest file at all is equivalent to an empty one: a package
		// directory with only a build.sh and no package.toml is valid.
		return m, nil
	}
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Manifest{}, xerrors.Errorf("parsing manifest %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Manifest{}, xerrors.Errorf("manifest %s: unknown key %q", path, undecoded[0].String())
	}
	return m, nil
}
