package archive

import (
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// CopyTree physically copies srcDir onto destDir, file by file. It never
// creates a hard or soft link between the two trees (the large-file policy
// a replaceable home directory depends on); where the destination
// filesystem supports copy-on-write reflinks (Btrfs, XFS with reflink=1),
// it transparently uses FICLONE to avoid the copy, falling back to a plain
// io.Copy otherwise. This mirrors the probe-and-fall-back shape distri's
// internal/build/userns.go uses to detect user-namespace support: try the
// fast path, and silently accept the slow one if the kernel or filesystem
// doesn't support it.
func CopyTree(srcDir, destDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destDir, rel)
		if rel == "." {
			return os.MkdirAll(dest, 0755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			os.Remove(dest)
			return os.Symlink(target, dest)
		case d.IsDir():
			return os.MkdirAll(dest, info.Mode().Perm())
		case info.Mode().IsRegular():
			return copyFile(path, dest, info.Mode().Perm())
		default:
			return nil // devices, sockets, fifos: not meaningful inside a package source tree
		}
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return xerrors.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}

	in, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("copying %s: %w", src, err)
	}
	defer in.Close()

	os.Remove(dest) // never copy onto an existing hard/soft link target
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return xerrors.Errorf("copying to %s: %w", dest, err)
	}
	defer out.Close()

	if reflinkCopy(out, in) == nil {
		return out.Close()
	}

	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return xerrors.Errorf("copying %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		return xerrors.Errorf("copying %s to %s: %w", src, dest, err)
	}
	return out.Close()
}

// reflinkCopy attempts a same-filesystem copy-on-write clone of src onto
// dest via the Linux FICLONE ioctl. A non-nil error (unsupported
// filesystem, cross-device, old kernel) is not logged as a failure: the
// caller always has a full io.Copy fallback ready.
func reflinkCopy(dest, src *os.File) error {
	return unix.IoctlFileClone(int(dest.Fd()), int(src.Fd()))
}
