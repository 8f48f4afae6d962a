package runner

import (
	"path/filepath"

	"github.com/ongardie/cubicle/internal/config"
	"github.com/ongardie/cubicle/internal/store"
	"golang.org/x/xerrors"
)

// New constructs the Runner selected by cfg.Runner. s provides the physical
// home/work paths for the Bubblewrap backend, which binds them directly
// into its sandboxes rather than keeping its own copy of an environment's
// state.
func New(cfg config.Config, s *store.Store) (Runner, error) {
	switch cfg.Runner {
	case config.RunnerBubblewrap:
		binary := cfg.Bubblewrap.Binary
		if binary == "" {
			binary = "bwrap"
		}
		listRoot := filepath.Join(s.CacheRoot, "cubicle", "home")
		return NewBubblewrap(binary, s.HomeDir, s.WorkDir, listRoot), nil
	case config.RunnerOCI:
		return NewOCI(cfg.OCI.Host, cfg.OCI.Image)
	case config.RunnerUserAccount:
		prefix := cfg.UserAccount.GroupPrefix
		if prefix == "" {
			prefix = "cub"
		}
		return NewUserAccount(prefix), nil
	default:
		return nil, xerrors.Errorf("unknown runner kind %q", cfg.Runner)
	}
}
