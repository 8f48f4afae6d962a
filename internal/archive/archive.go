// Package archive packs and unpacks provides.tar, the portable unit of
// inter-package composition, and copies plain directory trees by physical
// copy (optionally via a copy-on-write reflink), never by hardlink or
// symlink, per the environment composer's large-file policy.
//
// Archive construction mirrors distri's own archive/tar usage in its
// internal/build package; compression goes through github.com/klauspost/pgzip
// rather than compress/gzip, the same parallel-gzip substitution distri
// makes throughout its own build code.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"
)

// PackToFile tars srcDir's contents (paths relative to srcDir) into a new
// gzip-compressed file at destTar.
func PackToFile(destTar, srcDir string) error {
	f, err := os.Create(destTar)
	if err != nil {
		return xerrors.Errorf("creating %s: %w", destTar, err)
	}
	defer f.Close()

	gz, err := pgzip.NewWriterLevel(f, pgzip.DefaultCompression)
	if err != nil {
		return xerrors.Errorf("packing %s: %w", destTar, err)
	}

	if err := Pack(gz, srcDir); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return xerrors.Errorf("packing %s: %w", destTar, err)
	}
	return f.Close()
}

// Pack tars srcDir's contents onto w, uncompressed; callers that want
// compression wrap w in a pgzip.Writer themselves (PackToFile does this).
func Pack(w io.Writer, srcDir string) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("packing %s: %w", srcDir, err)
	}
	return tw.Close()
}

// UnpackFile extracts the gzip-compressed tar at tarPath into destDir,
// creating destDir if necessary.
func UnpackFile(tarPath, destDir string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", tarPath, err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return xerrors.Errorf("unpacking %s: %w", tarPath, err)
	}
	defer gz.Close()

	return Unpack(gz, destDir)
}

// ConcatUnpack extracts each of tarPaths, in order, into destDir. Later
// archives may overwrite files the earlier ones wrote — this is how a
// target environment's home is composed from the runtime plan's
// provides.tar files, in dependency order, so that a package's own files
// take precedence over a dependency's same-named file.
func ConcatUnpack(tarPaths []string, destDir string) error {
	for _, p := range tarPaths {
		if err := UnpackFile(p, destDir); err != nil {
			return err
		}
	}
	return nil
}

// Unpack extracts a tar stream into destDir. Every regular file is written
// fresh (opened O_TRUNC|O_CREATE); this, not any special-casing, is what
// guarantees the composer never produces a hard or soft link to another
// environment's files when unpacking a provides archive.
func Unpack(r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return xerrors.Errorf("creating %s: %w", destDir, err)
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("unpacking into %s: %w", destDir, err)
		}
		dest := filepath.Join(destDir, filepath.FromSlash(hdr.Name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			// Unsupported entry type (device nodes, fifos, ...); cubicle
			// packages never legitimately need these.
		}
	}
}
