package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

var configValidate = validator.New()

// serverFSItem is one file under a server_fs connector's root.
type serverFSItem struct {
	path string
	info fs.FileInfo
}

// ServerFSConnector walks a local/mounted directory tree. Its cursor
// is the RFC3339 modification-time watermark of the most recently
// seen file.
type ServerFSConnector struct {
	Root      string
	Extensions []string
}

// ServerFSConfig is the shape of a server_fs WorkspaceSource's config.
type ServerFSConfig struct {
	Root       string   `validate:"required"`
	Extensions []string `validate:"omitempty,dive,required"`
}

func NewServerFSConnector(config map[string]any, _ *string) (Connector, error) {
	root, _ := config["root"].(string)
	var extensions []string
	if raw, ok := config["extensions"].([]any); ok {
		for _, e := range raw {
			if s, ok := e.(string); ok {
				extensions = append(extensions, s)
			}
		}
	}
	c := &ServerFSConnector{Root: root, Extensions: extensions}
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ServerFSConnector) ValidateConfig() error {
	schema := ServerFSConfig{Root: c.Root, Extensions: c.Extensions}
	if err := configValidate.Struct(schema); err != nil {
		return govplaneerrors.ValidationError("server_fs config", err.Error())
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return govplaneerrors.FailedToWithDetails("stat server_fs root", "connector", c.Root, err)
	}
	if !info.IsDir() {
		return govplaneerrors.ValidationError("root", "must be a directory")
	}
	return nil
}

func (c *ServerFSConnector) matches(name string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(name)
	for _, allowed := range c.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ListChanges walks the tree, returning files modified strictly after
// the cursor watermark (or all files when cursor is nil, matching
// force_full_scan). The new cursor is the latest modification time seen.
func (c *ServerFSConnector) ListChanges(ctx context.Context, cursor *string) ([]Item, *string, error) {
	var since time.Time
	if cursor != nil {
		parsed, err := time.Parse(time.RFC3339, *cursor)
		if err == nil {
			since = parsed
		}
	}

	var items []Item
	var latest time.Time
	err := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.matches(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(since) {
			items = append(items, serverFSItem{path: path, info: info})
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, nil, govplaneerrors.FailedToWithDetails("walk server_fs root", "connector", c.Root, err)
	}
	if latest.IsZero() {
		latest = since
	}
	newCursor := latest.Format(time.RFC3339)
	return items, &newCursor, nil
}

func (c *ServerFSConnector) GetMetadata(ctx context.Context, item Item) (Metadata, error) {
	fi, ok := item.(serverFSItem)
	if !ok {
		return Metadata{}, fmt.Errorf("server_fs connector received a non-server_fs item")
	}
	rel, err := filepath.Rel(c.Root, fi.path)
	if err != nil {
		rel = fi.path
	}
	if _, statErr := os.Stat(fi.path); os.IsNotExist(statErr) {
		return Metadata{SourceDocumentID: rel, Name: filepath.Base(fi.path), Path: rel, Removed: true}, nil
	}
	size := fi.info.Size()
	modified := fi.info.ModTime()
	checksum, err := fileChecksum(fi.path)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		SourceDocumentID: rel,
		Name:             filepath.Base(fi.path),
		MIME:             mimeFromExtension(filepath.Ext(fi.path)),
		ModifiedTime:     &modified,
		Size:             &size,
		Checksum:         checksum,
		Path:             rel,
	}, nil
}

func (c *ServerFSConnector) Download(ctx context.Context, item Item) ([]byte, error) {
	fi, ok := item.(serverFSItem)
	if !ok {
		return nil, fmt.Errorf("server_fs connector received a non-server_fs item")
	}
	data, err := os.ReadFile(fi.path)
	if err != nil {
		return nil, govplaneerrors.FailedToWithDetails("download file", "connector", fi.path, err)
	}
	return data, nil
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", govplaneerrors.FailedToWithDetails("checksum file", "connector", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func mimeFromExtension(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".md", ".txt":
		return "text/plain"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
