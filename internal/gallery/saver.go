package gallery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	downloadDirPerm  = fs.FileMode(0o755)
	downloadFilePerm = fs.FileMode(0o644)

	// maxNameAttempts bounds the " (n)" suffixes tried when a file with
	// the suggested name already exists.
	maxNameAttempts = 1000
)

// SaveRequest is a fully received artifact ready to be stored.
type SaveRequest struct {
	RootID      string
	Filename    string
	ContentType string
	Scope       ArchiveScope
	Data        []byte
}

// Saver stores finished downloads and returns where they went.
type Saver interface {
	Save(ctx context.Context, req SaveRequest) (string, error)
}

// DirSaver writes downloads into a directory. Files appear atomically:
// a reader never sees a partially written artifact. Existing files are
// never overwritten.
type DirSaver struct {
	Dir string

	// Manifest writes a "<file>.yaml" sidecar describing the download.
	Manifest bool
}

// manifest is the sidecar written next to a saved download.
type manifest struct {
	Root        string    `yaml:"root"`
	Folder      string    `yaml:"folder,omitempty"`
	FileIDs     []string  `yaml:"file_ids,omitempty"`
	Filename    string    `yaml:"filename"`
	ContentType string    `yaml:"content_type,omitempty"`
	Bytes       int       `yaml:"bytes"`
	SHA256      string    `yaml:"sha256"`
	SavedAt     time.Time `yaml:"saved_at"`
}

// Save implements Saver.
func (s DirSaver) Save(_ context.Context, req SaveRequest) (string, error) {
	if err := os.MkdirAll(s.Dir, downloadDirPerm); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	name := safeFilename(req.Filename)

	tmp, err := os.CreateTemp(s.Dir, ".delivery-download-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(req.Data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return "", fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, downloadFilePerm); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("setting file permissions: %w", err)
	}

	dst, err := s.claim(name)
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		os.Remove(dst)

		return "", fmt.Errorf("renaming temp file: %w", err)
	}

	if s.Manifest {
		if err := writeManifest(dst, req); err != nil {
			return dst, err
		}
	}

	return dst, nil
}

// claim reserves a free destination path by creating it exclusively,
// adding " (n)" before the extension when the name is taken. The
// placeholder is replaced by the rename.
func (s DirSaver) claim(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}

		dst := filepath.Join(s.Dir, candidate)

		f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, downloadFilePerm)
		if err == nil {
			f.Close()
			return dst, nil
		}

		if !os.IsExist(err) {
			return "", fmt.Errorf("reserving %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf("no free file name for %s", name)
}

func writeManifest(dst string, req SaveRequest) error {
	sum := sha256.Sum256(req.Data)

	m := manifest{
		Root:        req.RootID,
		Folder:      req.Scope.FolderPath,
		FileIDs:     req.Scope.FileIDs,
		Filename:    filepath.Base(dst),
		ContentType: req.ContentType,
		Bytes:       len(req.Data),
		SHA256:      hex.EncodeToString(sum[:]),
		SavedAt:     time.Now().UTC(),
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := os.WriteFile(dst+".yaml", data, downloadFilePerm); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	return nil
}

// safeFilename reduces a server-suggested name to a single path
// element.
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))

	switch name {
	case "", ".", "..", "/":
		return "download"
	}

	if strings.HasPrefix(name, ".") {
		name = "_" + name[1:]
	}

	return name
}
