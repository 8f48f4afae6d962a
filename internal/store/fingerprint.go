package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/xerrors"
)

// SourceFingerprint computes the source hash the freshness oracle's first
// rule compares against: a content hash of every file in sourceDir,
// byte-for-byte, combined with the
// resolved names and fingerprints of the package's dependencies
// (depFingerprints, supplied by the caller and hashed in the order given). A
// change anywhere in the source tree, or in any dependency's identity or
// fingerprint, changes the result.
func SourceFingerprint(sourceDir string, depFingerprints []string) (string, error) {
	h := sha256.New()

	var files []string
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", xerrors.Errorf("hashing source %s: %w", sourceDir, err)
	}
	sort.Strings(files)

	for _, rel := range files {
		io.WriteString(h, rel)
		h.Write([]byte{0})

		f, err := os.Open(filepath.Join(sourceDir, rel))
		if err != nil {
			return "", xerrors.Errorf("hashing source %s: %w", sourceDir, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", xerrors.Errorf("hashing source %s: %w", sourceDir, err)
		}
		h.Write([]byte{0})
	}

	for _, dep := range depFingerprints {
		io.WriteString(h, dep)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
