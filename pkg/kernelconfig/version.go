package kernelconfig

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrUnparseableVersion is returned for a kernel version string that does
// not start with "<major>.<minor>".
var ErrUnparseableVersion = errors.New("failed to parse kernel version")

// e.g.
//
//	5.19-rc6
//	4.14.288
//	5.18.6-arch1-1
//	5.13.0-19-generic
//	3.10.0-514.6.1.el7.x86_64
var reSplitVersion = regexp.MustCompile(`^(?P<major>\d+)\.(?P<minor>\d+)(\.\d+)?(-[\w.-]+)?`)

// Version is the numeric part of a kernel version string.
type Version struct {
	Major int
	Minor int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion parses the leading "<major>.<minor>" of a kernel version.
func ParseVersion(s string) (Version, error) {
	m := reSplitVersion.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrUnparseableVersion, s)
	}
	major, err := strconv.Atoi(m[reSplitVersion.SubexpIndex("major")])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %w", ErrUnparseableVersion, s, err)
	}
	minor, err := strconv.Atoi(m[reSplitVersion.SubexpIndex("minor")])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: %w", ErrUnparseableVersion, s, err)
	}
	return Version{Major: major, Minor: minor}, nil
}
