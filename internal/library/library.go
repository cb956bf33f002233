// Package library manages the flat directory of recording files.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/petems/looptray/internal/codec"
	"github.com/rs/zerolog"
)

// Mode identifies what produced a recording file
type Mode string

const (
	ModeLoop      Mode = "loop"
	ModeRecording Mode = "recording"
	ModeExport    Mode = "loops_export"
)

// SortOrder selects how List orders files
type SortOrder string

const (
	Chronological SortOrder = "chronological"
	Alphabetical  SortOrder = "alphabetical"
)

// Toggle returns the other sort order
func (o SortOrder) Toggle() SortOrder {
	if o == Alphabetical {
		return Chronological
	}
	return Alphabetical
}

// ParseSortOrder maps a config value to a SortOrder, defaulting to chronological
func ParseSortOrder(s string) SortOrder {
	if SortOrder(strings.ToLower(strings.TrimSpace(s))) == Alphabetical {
		return Alphabetical
	}
	return Chronological
}

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrExists      = errors.New("file already exists")
)

// timestampLayout sorts lexically in time order
const timestampLayout = "20060102-150405.000000"

// File is one recording on disk
type File struct {
	Path    string
	Name    string
	ModTime time.Time
	Size    int64
}

// Library is a directory of recordings
type Library struct {
	dir string
	log zerolog.Logger
}

// New returns a Library rooted at dir. The directory is created lazily.
func New(dir string, log zerolog.Logger) *Library {
	return &Library{dir: dir, log: log}
}

// Dir returns the library directory
func (l *Library) Dir() string {
	return l.dir
}

// Ensure creates the library directory if needed
func (l *Library) Ensure() error {
	return os.MkdirAll(l.dir, 0755)
}

// NewName returns an unused path for a new file of the given mode created at t.
// Names have the form <mode>_<YYYYMMDD-HHMMSS.ffffff>.wav in UTC; a numeric
// suffix is added when that name is taken.
func (l *Library) NewName(mode Mode, t time.Time) string {
	base := fmt.Sprintf("%s_%s", mode, t.UTC().Format(timestampLayout))
	path := filepath.Join(l.dir, base+codec.Extension)
	for n := 2; exists(path); n++ {
		path = filepath.Join(l.dir, fmt.Sprintf("%s_%d%s", base, n, codec.Extension))
	}
	return path
}

// List returns the recordings in the directory. Errors are logged and an
// empty list returned.
func (l *Library) List(order SortOrder) []File {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.log.Error().Err(err).Str("dir", l.dir).Msg("Failed to list recordings")
		}
		return []File{}
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), codec.Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			l.log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable file")
			continue
		}
		files = append(files, File{
			Path:    filepath.Join(l.dir, e.Name()),
			Name:    e.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	Sort(files, order)
	return files
}

// Sort orders files in place
func Sort(files []File, order SortOrder) {
	switch order {
	case Alphabetical:
		sort.SliceStable(files, func(i, j int) bool {
			return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
		})
	default:
		sort.SliceStable(files, func(i, j int) bool {
			if files[i].ModTime.Equal(files[j].ModTime) {
				return files[i].Name < files[j].Name
			}
			return files[i].ModTime.Before(files[j].ModTime)
		})
	}
}

// Remove deletes a recording file. Removing a missing file is not an error.
func (l *Library) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Move renames src within its directory to newBase, keeping the extension.
func (l *Library) Move(src, newBase string) (string, error) {
	newBase = strings.TrimSpace(newBase)
	ext := filepath.Ext(src)
	newBase = strings.TrimSuffix(newBase, ext)
	if newBase == "" || newBase == "." || newBase == ".." || strings.ContainsAny(newBase, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, newBase)
	}

	dst := filepath.Join(filepath.Dir(src), newBase+ext)
	if dst == src {
		return src, nil
	}
	if exists(dst) {
		return "", fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("rename %s: %w", src, err)
	}
	l.log.Info().Str("from", src).Str("to", dst).Msg("Renamed recording file")
	return dst, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
