package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Segment is one synthesized clip for one conversation turn.
type Segment struct {
	Ordinal int
	Path    string
}

// SortByOrdinal returns a copy of segments in conversation order. Duplicate
// ordinals are rejected.
func SortByOrdinal(segments []Segment) ([]Segment, error) {
	sorted := append([]Segment(nil), segments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Ordinal == sorted[i-1].Ordinal {
			return nil, fmt.Errorf("duplicate segment ordinal %d", sorted[i].Ordinal)
		}
	}
	return sorted, nil
}

// RemoveSegments deletes every segment file, ignoring files already gone.
func RemoveSegments(segments []Segment) error {
	var errs []error
	for _, seg := range segments {
		if seg.Path == "" {
			continue
		}
		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SegmentName returns the file name for a turn's clip, scoped by request.
func SegmentName(requestID string, ordinal int, format string) string {
	return fmt.Sprintf("%s_%d.%s", requestID, ordinal, strings.TrimPrefix(format, "."))
}

// Workspace is the private temp directory of one request.
type Workspace struct {
	Dir string
}

// NewWorkspace creates {root}/{requestID}. It fails if the directory already
// exists so two requests never share a namespace.
func NewWorkspace(root, requestID string) (*Workspace, error) {
	if requestID == "" || strings.ContainsAny(requestID, `/\`) || requestID == "." || requestID == ".." {
		return nil, fmt.Errorf("invalid request id %q", requestID)
	}
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	dir := filepath.Join(root, requestID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Remove deletes the workspace and anything left inside it.
func (w *Workspace) Remove() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}
