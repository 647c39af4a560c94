// Package packaging turns generated module files into deterministic zip
// archives. Packing the same file set twice yields byte-identical archives,
// so content hashes are stable and deployments can be compared by hash.
package packaging

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
)

// archiveEpoch is the fixed modification time stamped on every archive
// entry. Zip cannot represent times before 1980.
var archiveEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

const entryMode = 0o644

// Archive is a packaged module ready for upload.
type Archive struct {
	ModuleName  string
	Content     []byte
	ContentHash string // hex SHA-256 of Content
	FileCount   int
}

// Pack builds the archive for a module. File paths are relative to the
// module root; entries are written sorted and rooted under a single
// top-level directory named after the module.
func Pack(moduleName string, files map[string]string) (*Archive, error) {
	if moduleName == "" {
		return nil, &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("module name is empty")}
	}
	if len(files) == 0 {
		return nil, &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("no files to package")}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		if err := validateEntryName(name); err != nil {
			return nil, &apperrors.PackagingError{Module: moduleName, Err: err}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range names {
		header := &zip.FileHeader{
			Name:     moduleName + "/" + name,
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		}
		header.SetMode(entryMode)

		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("failed to add %s: %w", name, err)}
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			return nil, &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("failed to write %s: %w", name, err)}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("failed to finalize archive: %w", err)}
	}

	content := buf.Bytes()
	return &Archive{
		ModuleName:  moduleName,
		Content:     content,
		ContentHash: Hash(content),
		FileCount:   len(names),
	}, nil
}

// Hash returns the hex SHA-256 of archive content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ArchiveFileName returns the on-disk name for a packaged module,
// "<module>-<hash8>.zip", where hash8 is the first 8 hex digits of the
// content hash.
func ArchiveFileName(moduleName, contentHash string) string {
	short := contentHash
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s.zip", moduleName, short)
}

// Package packs a module and writes the archive into outDir, creating the
// directory if needed. It returns the archive and the path it was written
// to. The file name embeds the content hash, so repackaging unchanged
// files overwrites the same artifact in place.
func Package(moduleName string, files map[string]string, outDir string) (*Archive, string, error) {
	archive, err := Pack(moduleName, files)
	if err != nil {
		return nil, "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, "", &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("failed to create artifact directory: %w", err)}
	}

	path := filepath.Join(outDir, ArchiveFileName(moduleName, archive.ContentHash))
	if err := os.WriteFile(path, archive.Content, entryMode); err != nil {
		return nil, "", &apperrors.PackagingError{Module: moduleName, Err: fmt.Errorf("failed to write archive: %w", err)}
	}

	return archive, path, nil
}

// Unpack extracts an archive under destDir and returns the written paths
// relative to destDir. The archive must carry exactly one top-level
// directory; entries escaping it are rejected.
func Unpack(content []byte, destDir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if len(zr.File) == 0 {
		return nil, fmt.Errorf("archive is empty")
	}

	root := ""
	written := make([]string, 0, len(zr.File))

	for _, f := range zr.File {
		name := filepath.ToSlash(f.Name)
		if err := validateEntryName(name); err != nil {
			return nil, err
		}

		top, _, ok := strings.Cut(name, "/")
		if !ok {
			return nil, fmt.Errorf("entry %s is not inside a module directory", name)
		}
		if root == "" {
			root = top
		} else if top != root {
			return nil, fmt.Errorf("archive has multiple top-level directories: %s and %s", root, top)
		}

		target := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
		}

		if err := os.WriteFile(target, data, entryMode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, name)
	}

	return written, nil
}

// validateEntryName rejects paths that could escape the extraction root.
func validateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("empty file name")
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("absolute path in archive: %s", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("path traversal in archive: %s", name)
		}
	}
	return nil
}
