package autoload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// Header opens every generated bundle.
	Header = "# Code generated by modhost. DO NOT EDIT.\n"

	// BundleFileName is the bundle file written to, and loaded from, the index root.
	BundleFileName = "on-load.star"
)

// Boundary returns the marker written before the fragment at rel, a slash-separated path
// relative to the index root.
func Boundary(rel string) string {
	return fmt.Sprintf("\n#\n# File: /%s\n#\n", rel)
}

// SyncResult describes the outcome of a bundle sync.
type SyncResult struct {
	// Path is the bundle file.
	Path string `json:"path"`

	// Written is true when the file was created or replaced.
	Written bool `json:"written"`

	// Checksum is the sha256 of the bundle content, hex encoded.
	Checksum string `json:"checksum"`

	// Fragments is the number of fragments in the bundle.
	Fragments int `json:"fragments"`
}

// Bundler concatenates the fragments of an index into one bundle file.
type Bundler struct {
	index  *Index
	logger zerolog.Logger
}

// NewBundler creates a bundler for index.
func NewBundler(index *Index, logger zerolog.Logger) *Bundler {
	return &Bundler{
		index:  index,
		logger: logger.With().Str("component", "bundler").Str("controller", index.Owner()).Logger(),
	}
}

// Path returns the bundle file path under the index root.
func (b *Bundler) Path() string {
	return filepath.Join(b.index.Root(), BundleFileName)
}

// Generate returns the bundle content. Output depends only on the fragment list and
// fragment contents.
func (b *Bundler) Generate() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Header)

	root := b.index.Root()
	for _, frag := range b.index.Fragments() {
		data, err := os.ReadFile(frag)
		if err != nil {
			return nil, fmt.Errorf("failed to read fragment %s: %w", frag, err)
		}

		rel, err := filepath.Rel(root, frag)
		if err != nil {
			rel = frag
		}
		buf.WriteString(Boundary(strings.TrimPrefix(filepath.ToSlash(rel), "/")))
		buf.WriteString(StripPrologue(string(data)))
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// SyncToDisk writes the bundle to target when its content differs from the file already
// there. An empty target uses Path.
func (b *Bundler) SyncToDisk(target string) (SyncResult, error) {
	content, err := b.Generate()
	if err != nil {
		return SyncResult{}, err
	}
	return b.Write(target, content)
}

// Write stores content, as returned by Generate, at target unless the file there already
// holds it. An empty target uses Path.
func (b *Bundler) Write(target string, content []byte) (SyncResult, error) {
	if target == "" {
		target = b.Path()
	}

	result := SyncResult{
		Path:      target,
		Checksum:  Checksum(content),
		Fragments: len(b.index.Fragments()),
	}

	existing, err := os.ReadFile(target)
	if err == nil && bytes.Equal(existing, content) {
		b.logger.Debug().Str("path", target).Msg("Bundle unchanged")
		return result, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return result, fmt.Errorf("failed to read bundle %s: %w", target, err)
	}

	if err := os.WriteFile(target, content, 0644); err != nil {
		return result, fmt.Errorf("failed to write bundle %s: %w", target, err)
	}
	result.Written = true

	b.logger.Info().
		Str("path", target).
		Int("fragments", result.Fragments).
		Str("checksum", result.Checksum).
		Msg("Bundle written")
	return result, nil
}

// Checksum returns the hex sha256 of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// StripPrologue removes leading whitespace, an optional "#!" interpreter line and
// trailing whitespace from a fragment body.
func StripPrologue(body string) string {
	body = strings.TrimLeft(body, " \t\r\n")
	if strings.HasPrefix(body, "#!") {
		if i := strings.IndexByte(body, '\n'); i >= 0 {
			body = body[i+1:]
		} else {
			body = ""
		}
		body = strings.TrimLeft(body, " \t\r\n")
	}
	return strings.TrimRight(body, " \t\r\n")
}
