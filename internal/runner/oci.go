package runner

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/cubicleerr"
)

// APIVersion pins the negotiated Docker engine API version, the same
// constant role lazydocker's APIVersion plays when constructing its client
// with client.WithVersion.
const APIVersion = "1.41"

// OCI runs every environment as a long-lived, stopped-between-uses
// container on a Docker-compatible engine. Unlike Bubblewrap, each
// environment genuinely owns a private root filesystem derived from
// Image; composition happens by docker cp'ing a seed archive in rather
// than bind-mounting a prepared tree.
type OCI struct {
	Client *client.Client
	Image  string
}

var _ Runner = (*OCI)(nil)

// NewOCI connects to the engine reachable at host (empty string uses
// DOCKER_HOST / the default local socket, exactly as client.FromEnv
// resolves it for lazydocker).
func NewOCI(host, image string) (*OCI, error) {
	opts := []client.Opt{client.FromEnv, client.WithVersion(APIVersion)}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "connecting to engine", Err: err}
	}
	return &OCI{Client: cli, Image: image}, nil
}

func containerName(envID string) string { return "cubicle-" + envID }

func (o *OCI) Create(ctx context.Context, envID string, seedArchive io.Reader) error {
	resp, err := o.Client.ContainerCreate(ctx, &container.Config{
		Image:      o.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/home/cubicle",
		Env:        []string{"HOME=/home/cubicle"},
	}, &container.HostConfig{}, nil, nil, containerName(envID))
	if err != nil {
		return &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "creating " + envID, Err: err}
	}
	if err := o.Client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "starting " + envID, Err: err}
	}

	if _, err := o.exec(ctx, envID, []string{"mkdir", "-p", "/home/cubicle/work"}, nil); err != nil {
		return err
	}
	if seedArchive == nil {
		return nil
	}

	// The engine's CopyToContainer endpoint expects an uncompressed tar
	// stream. The seed (also an uncompressed tar) is staged through a
	// scratch directory and re-packed with archive.Pack on the way in.
	scratch, err := os.MkdirTemp("", "cubicle-oci-seed-")
	if err != nil {
		return &cubicleerr.IOError{Path: scratch, Detail: "staging seed", Err: err}
	}
	defer os.RemoveAll(scratch)
	if err := archive.Unpack(seedArchive, scratch); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.Pack(pw, scratch))
	}()
	if err := o.Client.CopyToContainer(ctx, resp.ID, "/home/cubicle", pr, types.CopyToContainerOptions{}); err != nil {
		return &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "seeding " + envID, Err: err}
	}
	return nil
}

func (o *OCI) Exists(ctx context.Context, envID string) (bool, error) {
	_, err := o.Client.ContainerInspect(ctx, containerName(envID))
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "inspecting " + envID, Err: err}
	}
	return true, nil
}

func (o *OCI) Run(ctx context.Context, envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error) {
	exists, err := o.Exists(ctx, envID)
	if err != nil {
		return ExitStatus{}, err
	}
	if !exists {
		return ExitStatus{}, &cubicleerr.NoSuchEnv{Name: envID}
	}
	return o.execAttached(ctx, envID, command, envVars, stdio)
}

// exec runs a command with its output discarded, used for bookkeeping
// steps (e.g. `mkdir -p` during Create) that have no caller-facing stdio.
func (o *OCI) exec(ctx context.Context, envID string, command []string, envVars map[string]string) (ExitStatus, error) {
	return o.execAttached(ctx, envID, command, envVars, Stdio{})
}

// execAttached mirrors lazydocker's createExec/attach shape:
// ContainerExecCreate followed by ContainerExecAttach, then demultiplexing
// the combined stdout/stderr stream (no Tty, so the stream is
// stdcopy-framed) into the caller's stdio before inspecting the exec's
// final exit code.
func (o *OCI) execAttached(ctx context.Context, envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error) {
	var env []string
	for k, v := range envVars {
		env = append(env, k+"="+v)
	}
	execResp, err := o.Client.ContainerExecCreate(ctx, containerName(envID), types.ExecConfig{
		Cmd:          command,
		Env:          env,
		WorkingDir:   "/home/cubicle/work",
		AttachStdin:  stdio.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: fmt.Sprintf("creating exec for %v", command), Err: err}
	}

	attachResp, err := o.Client.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "attaching to exec", Err: err}
	}
	defer attachResp.Close()

	if stdio.Stdin != nil {
		go io.Copy(attachResp.Conn, stdio.Stdin)
	}
	stdout, stderr := stdio.Stdout, stdio.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, attachResp.Reader); err != nil {
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "reading exec output", Err: err}
	}

	inspect, err := o.Client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "inspecting exec", Err: err}
	}
	return ExitStatus{Code: inspect.ExitCode}, nil
}

func (o *OCI) CopyOut(ctx context.Context, envID string, relativePath string) (io.ReadCloser, error) {
	rc, _, err := o.Client.CopyFromContainer(ctx, containerName(envID), "/home/cubicle/"+relativePath)
	if client.IsErrNotFound(err) {
		return nil, &cubicleerr.MissingArtifact{Name: relativePath}
	}
	if err != nil {
		return nil, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "copying out " + relativePath, Err: err}
	}
	return rc, nil
}

func (o *OCI) Purge(ctx context.Context, envID string) error {
	err := o.Client.ContainerRemove(ctx, containerName(envID), types.ContainerRemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "purging " + envID, Err: err}
	}
	return nil
}

func (o *OCI) List(ctx context.Context, prefix string) ([]string, error) {
	containers, err := o.Client.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, &cubicleerr.RunnerError{Kind: string(KindOCI), Detail: "listing", Err: err}
	}
	var names []string
	wantPrefix := "/" + containerName(prefix)
	for _, c := range containers {
		for _, n := range c.Names {
			if len(n) >= len(wantPrefix) && n[:len(wantPrefix)] == wantPrefix {
				names = append(names, n[len("/cubicle-"):])
			}
		}
	}
	return names, nil
}
