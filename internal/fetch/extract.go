package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type archiveKind int

const (
	kindUnknown archiveKind = iota
	kindZip
	kindTarGz
)

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// Top-level entries that archivers add and that do not count toward the
// single-directory rule.
var ignoredTopLevel = map[string]bool{"__MACOSX": true}

func sniff(path string) (archiveKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return kindUnknown, err
	}
	defer f.Close()

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return kindUnknown, err
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return kindZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return kindTarGz, nil
	default:
		return kindUnknown, nil
	}
}

// unpack extracts archive into a staging directory under the extraction root
// and renames its single top-level directory to FinalPath.
func (f *Fetcher) unpack(asset Asset, archive string) error {
	kind, err := sniff(archive)
	if err != nil {
		return newError(ReasonFilesystem, asset.URL, err)
	}
	if kind == kindUnknown {
		return newError(ReasonCorruptArchive, asset.URL, ErrUnsupportedType)
	}

	staging, err := os.MkdirTemp(asset.ExtractRoot, ".staging-")
	if err != nil {
		return newError(ReasonFilesystem, asset.URL, err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			f.logger.Warn("Failed to remove staging directory", "path", staging, "error", err)
		}
	}()

	switch kind {
	case kindZip:
		err = extractZip(archive, staging)
	case kindTarGz:
		err = extractTarGz(archive, staging)
	}
	if err != nil {
		return newError(ReasonCorruptArchive, asset.URL, err)
	}

	top, err := singleTopLevel(staging)
	if err != nil {
		return newError(ReasonCorruptArchive, asset.URL, err)
	}

	if err := os.MkdirAll(filepath.Dir(asset.FinalPath), 0o755); err != nil {
		return newError(ReasonFilesystem, asset.URL, err)
	}
	if err := os.Rename(top, asset.FinalPath); err != nil {
		return newError(ReasonFilesystem, asset.URL, err)
	}
	return nil
}

func singleTopLevel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var found []fs.DirEntry
	for _, e := range entries {
		if ignoredTopLevel[e.Name()] {
			continue
		}
		found = append(found, e)
	}
	if len(found) != 1 || !found[0].IsDir() {
		names := make([]string, 0, len(found))
		for _, e := range found {
			names = append(names, e.Name())
		}
		return "", fmt.Errorf("%w: found [%s]", ErrLayout, strings.Join(names, ", "))
	}
	return filepath.Join(dir, found[0].Name()), nil
}

// safeJoin resolves an archive entry name under root, rejecting absolute
// names and any that climb out of root.
func safeJoin(root, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}
	return target, nil
}

func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return fmt.Errorf("%w: %w", ErrUnsafeEntry, err)
	}
	if err != nil {
		return err
	}
	defer r.Close()

	for _, zf := range r.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		mode := zf.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			return fmt.Errorf("%w: symlink %s", ErrUnsafeEntry, zf.Name)
		case zf.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		default:
			if err := writeZipEntry(zf, target, mode.Perm()); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeZipEntry(zf *zip.File, target string, perm fs.FileMode) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(target, rc, perm)
}

func extractTarGz(archive, dest string) error {
	file, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("%w: link %s", ErrUnsafeEntry, hdr.Name)
		}
	}
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
