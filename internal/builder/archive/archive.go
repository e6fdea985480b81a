// Package archive packages built bundle files into a zip archive.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrNoFiles is returned when there is nothing to archive.
var ErrNoFiles = errors.New("no files to archive")

// ErrEmptyBaseName is returned when no base name is given.
var ErrEmptyBaseName = errors.New("archive base name is empty")

// modTime is stamped on every entry so identical inputs give identical bytes.
var modTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// EntryName returns the name a built file is stored under: the digest
// prefix of its base name is replaced by base and every extension is kept,
// so <digest>.min.js becomes <base>.min.js.
func EntryName(path, base string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return base + name[i:]
	}
	return base
}

// Assemble zips the files at paths into an in-memory archive, naming each
// entry with EntryName.
func Assemble(paths []string, base string) ([]byte, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	if base == "" {
		return nil, ErrEmptyBaseName
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		name := EntryName(path, base)
		if seen[name] {
			return nil, fmt.Errorf("duplicate archive entry %s", name)
		}
		seen[name] = true

		if err := addFile(zw, path, name); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime,
	})
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compressing %s: %w", name, err)
	}
	return nil
}

// Entries lists the entry names of an archive.
func Entries(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
