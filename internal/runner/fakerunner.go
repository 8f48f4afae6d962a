package runner

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ongardie/cubicle/internal/cubicleerr"
)

// Invocation records one call to Fake.Run, for tests that assert on what
// internal/build or internal/compose asked a Runner to do without spinning
// up a real sandbox — the same role distri's internal/distritest doubles
// play for its own subprocess-heavy build tests.
type Invocation struct {
	EnvID   string
	Command []string
	Env     map[string]string
}

// Fake is an in-memory Runner double. Scripted behavior comes from
// OnRun, which is called synchronously for every Run invocation and may
// write to the supplied Stdio; a nil OnRun always reports success and
// touches nothing.
type Fake struct {
	mu sync.Mutex

	envs  map[string]map[string][]byte // envID -> relative path -> contents
	Calls []Invocation

	// OnRun, when set, is consulted for every Run call instead of the
	// default always-succeeds behavior.
	OnRun func(envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error)
}

var _ Runner = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{envs: make(map[string]map[string][]byte)}
}

func (f *Fake) Create(ctx context.Context, envID string, seedArchive io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.envs[envID]; ok {
		return &cubicleerr.EnvAlreadyExists{Name: envID}
	}
	files := make(map[string][]byte)
	if seedArchive != nil {
		b, err := io.ReadAll(seedArchive)
		if err != nil {
			return err
		}
		files["_seed"] = b
	}
	f.envs[envID] = files
	return nil
}

func (f *Fake) Exists(ctx context.Context, envID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.envs[envID]
	return ok, nil
}

func (f *Fake) Run(ctx context.Context, envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error) {
	f.mu.Lock()
	if _, ok := f.envs[envID]; !ok {
		f.mu.Unlock()
		return ExitStatus{}, &cubicleerr.NoSuchEnv{Name: envID}
	}
	f.Calls = append(f.Calls, Invocation{EnvID: envID, Command: append([]string(nil), command...), Env: envVars})
	onRun := f.OnRun
	f.mu.Unlock()

	if onRun != nil {
		return onRun(envID, command, envVars, stdio)
	}
	return ExitStatus{Code: 0}, nil
}

// PutFile lets a test pre-populate a file a subsequent CopyOut should
// return, modeling what a real build.sh run would have produced.
func (f *Fake) PutFile(envID, relativePath string, contents []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.envs[envID] == nil {
		f.envs[envID] = make(map[string][]byte)
	}
	f.envs[envID][relativePath] = contents
}

func (f *Fake) CopyOut(ctx context.Context, envID string, relativePath string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.envs[envID]
	if !ok {
		return nil, &cubicleerr.NoSuchEnv{Name: envID}
	}
	contents, ok := files[relativePath]
	if !ok {
		return nil, &cubicleerr.MissingArtifact{Name: relativePath}
	}
	return io.NopCloser(bytes.NewReader(contents)), nil
}

func (f *Fake) Purge(ctx context.Context, envID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.envs, envID)
	return nil
}

func (f *Fake) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.envs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
