package subject

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// DefaultGroups is the ordered set of cohort tokens recognised in paths.
var DefaultGroups = []string{"TDC", "AIS_L", "AIS_R", "PVI_L", "PVI_R"}

var (
	// ErrNoGroup reports a path that contains no known group token.
	ErrNoGroup = errors.New("no group token in path")
	// ErrNoTag reports a path that contains no subject tag after its group token.
	ErrNoTag = errors.New("no subject tag in path")
)

var (
	tagPattern             = regexp.MustCompile(`\d\d-\d\d\d\d`)
	tagOnlyPattern         = regexp.MustCompile(`^\d\d-\d\d\d\d$`)
	defaultIdentityPattern = regexp.MustCompile(identityExpr(DefaultGroups))
)

// Identity is the (group, tag) pair extracted from a subject path.
type Identity struct {
	Group string
	Tag   string
}

// Key returns the stable "<group>/<tag>" form used in manifests and logs.
func (id Identity) Key() string {
	return id.Group + "/" + id.Tag
}

// IdentityError describes a path that could not be parsed into an Identity.
type IdentityError struct {
	Path string
	Err  error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("parse subject identity %q: %v", e.Path, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// IsTag reports whether value is exactly a subject tag.
func IsTag(value string) bool {
	return tagOnlyPattern.MatchString(value)
}

// FindTag returns the first subject tag embedded in value.
func FindTag(value string) (string, bool) {
	tag := tagPattern.FindString(value)
	return tag, tag != ""
}

// ParseIdentity extracts the group and tag from path. The leftmost group
// token wins (ties resolved by the order of groups) and the tag is the last
// one that follows it.
func ParseIdentity(path string, groups []string) (Identity, error) {
	if len(groups) == 0 {
		groups = DefaultGroups
	}
	normalized := filepath.ToSlash(path)
	pattern := defaultIdentityPattern
	if !slices.Equal(groups, DefaultGroups) {
		expr := identityExpr(groups)
		if expr == "" {
			return Identity{}, &IdentityError{Path: path, Err: ErrNoGroup}
		}
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return Identity{}, &IdentityError{Path: path, Err: err}
		}
		pattern = compiled
	}
	match := pattern.FindStringSubmatch(normalized)
	if match != nil {
		return Identity{Group: match[1], Tag: match[2]}, nil
	}
	if !containsGroup(normalized, groups) {
		return Identity{}, &IdentityError{Path: path, Err: ErrNoGroup}
	}
	return Identity{}, &IdentityError{Path: path, Err: ErrNoTag}
}

func identityExpr(groups []string) string {
	quoted := make([]string, 0, len(groups))
	for _, group := range groups {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(group))
	}
	if len(quoted) == 0 {
		return ""
	}
	return `(` + strings.Join(quoted, "|") + `).*(\d\d-\d\d\d\d)`
}

func containsGroup(path string, groups []string) bool {
	for _, group := range groups {
		if group != "" && strings.Contains(path, group) {
			return true
		}
	}
	return false
}
