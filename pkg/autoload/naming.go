package autoload

import (
	"path/filepath"
	"strings"
)

const (
	// DefaultExtension is the module file extension indexed by default.
	DefaultExtension = ".star"

	// FragmentSuffix marks a bundle fragment, placed before the extension
	// (bar.on-load.star).
	FragmentSuffix = ".on-load"

	// ClassMarker is stripped from the front of a module file name.
	ClassMarker = "class-"

	// Separator is the canonical identifier separator.
	Separator = "_"
)

var separatorReplacer = strings.NewReplacer("-", Separator, ".", Separator, " ", Separator)

// Name is a derived logical name. Display keeps the original case for generated output;
// Key is the lower-cased lookup form.
type Name struct {
	Display string
	Key     string
}

// NormalizeName returns the lookup form of a logical name.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}

// DeriveName maps a module file name and prefix to a logical name. The extension ext is
// removed (the file's own extension when ext is empty), a leading "class-" marker is
// stripped, prefix is prepended and separator characters become underscores. A leading
// "-class-" keeps its dash, so private modules derive a name starting with an underscore.
func DeriveName(filename, prefix, ext string) Name {
	base := filepath.Base(filename)
	if ext == "" {
		ext = filepath.Ext(base)
	}
	stem := strings.TrimSuffix(base, ext)

	lead := ""
	switch {
	case strings.HasPrefix(stem, "-"+ClassMarker):
		lead = "-"
		stem = strings.TrimPrefix(stem, "-"+ClassMarker)
	case strings.HasPrefix(stem, ClassMarker):
		stem = strings.TrimPrefix(stem, ClassMarker)
	}

	display := separatorReplacer.Replace(lead + prefix + stem)
	return Name{Display: display, Key: NormalizeName(display)}
}

// IsFragment reports whether filename follows the bundle fragment naming convention.
func IsFragment(filename, ext string) bool {
	if ext == "" {
		ext = filepath.Ext(filename)
	}
	return strings.HasSuffix(filepath.Base(filename), FragmentSuffix+ext)
}
