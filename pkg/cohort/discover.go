package cohort

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"hippovol/pkg/nifti"
)

// ScanFile is a discovered scan together with the subject it belongs to.
type ScanFile struct {
	Path    string
	Subject string
}

// SubjectMatcher derives a subject identifier from a scan filename.
type SubjectMatcher struct {
	pattern *regexp.Regexp
}

// NewSubjectMatcher compiles pattern. With an empty pattern the subject is the
// filename without its scan extension; otherwise it is the first capture group
// (or the whole match when the pattern has no groups).
func NewSubjectMatcher(pattern string) (*SubjectMatcher, error) {
	if pattern == "" {
		return &SubjectMatcher{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile subject pattern: %w", err)
	}
	return &SubjectMatcher{pattern: re}, nil
}

// Subject returns the subject identifier for filename.
func (m *SubjectMatcher) Subject(filename string) (string, error) {
	stem := nifti.TrimScanExtension(filepath.Base(filename))
	if m == nil || m.pattern == nil {
		return stem, nil
	}
	match := m.pattern.FindStringSubmatch(stem)
	if match == nil {
		return "", fmt.Errorf("subject pattern %q does not match %q", m.pattern, stem)
	}
	if len(match) > 1 {
		return match[1], nil
	}
	return match[0], nil
}

// Discover lists the scan files in dir in lexicographic filename order.
// Directories and files without a NIfTI extension are skipped.
func Discover(dir string, matcher *SubjectMatcher) ([]ScanFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cohort directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !nifti.HasScanExtension(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}

	// os.ReadDir already sorts, but the positional alignment between cohorts
	// depends on this order so it is enforced here.
	sort.Strings(names)

	files := make([]ScanFile, 0, len(names))
	for _, name := range names {
		subject, err := matcher.Subject(name)
		if err != nil {
			return nil, err
		}
		files = append(files, ScanFile{Path: filepath.Join(dir, name), Subject: subject})
	}
	return files, nil
}
