package subject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// WorkItem is one unit of work handed to a stage: a subject directory or a
// single file. Key is unique within a stage and is what the manifest records.
type WorkItem struct {
	Key   string
	Group string
	Tag   string
	Path  string
}

// String returns the item key.
func (w WorkItem) String() string {
	return w.Key
}

// Identity returns the (group, tag) pair of the item.
func (w WorkItem) Identity() Identity {
	return Identity{Group: w.Group, Tag: w.Tag}
}

// FileItem builds a work item for a file. The key is the file's base name so
// it stays stable when the working directory moves. The tag is filled in when
// the name embeds one.
func FileItem(path string) WorkItem {
	base := filepath.Base(path)
	tag, _ := FindTag(base)
	return WorkItem{Key: base, Tag: tag, Path: path}
}

// Discover walks root and returns one work item per subject directory, that
// is, per directory whose final segment is exactly a tag. Items are ordered by
// the position of their group in groups, then by tag. Paths that cannot be
// parsed are reported together once the whole tree has been scanned.
func Discover(root string, groups []string) ([]WorkItem, error) {
	if len(groups) == 0 {
		groups = DefaultGroups
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("discover subjects: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discover subjects: %s is not a directory", root)
	}

	var (
		items    []WorkItem
		parseErr []error
		seen     = make(map[string]string)
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == root || !IsTag(d.Name()) {
			return nil
		}
		id, err := ParseIdentity(path, groups)
		if err != nil {
			parseErr = append(parseErr, err)
			return fs.SkipDir
		}
		if previous, dup := seen[id.Key()]; dup {
			parseErr = append(parseErr, &IdentityError{Path: path, Err: fmt.Errorf("duplicate of %s", previous)})
			return fs.SkipDir
		}
		seen[id.Key()] = path
		items = append(items, WorkItem{Key: id.Key(), Group: id.Group, Tag: id.Tag, Path: path})
		return fs.SkipDir
	})
	if walkErr != nil {
		return nil, fmt.Errorf("discover subjects: %w", walkErr)
	}
	if len(parseErr) > 0 {
		return nil, errors.Join(parseErr...)
	}
	Sort(items, groups)
	return items, nil
}

// Sort orders items by group position in groups, then by tag, then by key.
func Sort(items []WorkItem, groups []string) {
	rank := func(group string) int {
		if idx := slices.Index(groups, group); idx >= 0 {
			return idx
		}
		return len(groups)
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := rank(items[i].Group), rank(items[j].Group)
		if ri != rj {
			return ri < rj
		}
		if items[i].Tag != items[j].Tag {
			return items[i].Tag < items[j].Tag
		}
		return items[i].Key < items[j].Key
	})
}

// Files returns one work item per regular file in dir whose name matches the
// glob pattern, sorted by name. A missing directory yields no items.
func Files(dir, pattern string) ([]WorkItem, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	items := make([]WorkItem, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		items = append(items, FileItem(match))
	}
	return items, nil
}

// TagsInDir returns the unique tags embedded in the names of files in dir,
// sorted ascending.
func TagsInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	seen := make(map[string]struct{})
	var tags []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		tag, ok := FindTag(entry.Name())
		if !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// TrimExt removes every extension from a file name, so "a.nii.gz" becomes "a".
func TrimExt(name string) string {
	base := filepath.Base(name)
	if idx := strings.Index(base, "."); idx > 0 {
		return base[:idx]
	}
	return base
}
