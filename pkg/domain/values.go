package domain

import (
	"strings"
)

// Folder paths. Folders are index keys inside one database, not physical objects.
const (
	RootFolder        = "/"
	PathSep           = "/"
	RecycleBinName    = "Recycle Bin"
	RecycleBinFolder  = RootFolder + RecycleBinName
	recycleBinSubtree = RecycleBinFolder + PathSep
)

// IsFolderInRecycleBin reports whether path lies strictly below the recycle bin.
func IsFolderInRecycleBin(path string) bool {
	return strings.HasPrefix(path, recycleBinSubtree)
}

// IsFolderInRecycleBinSubtree reports whether path is the recycle bin or lies below it.
func IsFolderInRecycleBinSubtree(path string) bool {
	return path == RecycleBinFolder || IsFolderInRecycleBin(path)
}

// IsSystemFolder reports whether path is the root or the recycle bin.
func IsSystemFolder(path string) bool {
	return path == RootFolder || path == RecycleBinFolder
}

// DNASequence is an in-memory sequence value handed to the storage layer.
type DNASequence struct {
	Name     string
	Alphabet string
	Seq      []byte
	Circular bool
}

// AlignmentRow is one gapped row of an in-memory alignment. Gap characters
// are '-'.
type AlignmentRow struct {
	Name string
	Data []byte
}

// Alignment is an in-memory multiple alignment value.
type Alignment struct {
	Name     string
	Alphabet string
	Rows     []AlignmentRow
}

// Length returns the length of the longest row.
func (a Alignment) Length() int64 {
	var n int64
	for _, r := range a.Rows {
		if int64(len(r.Data)) > n {
			n = int64(len(r.Data))
		}
	}
	return n
}

// AnnotationData is an in-memory annotation value.
type AnnotationData struct {
	Name       string
	Type       string
	Regions    []Region
	Strand     Strand
	Qualifiers []FeatureKey
	// Group is the slash-separated group path inside the table; empty means the root group.
	Group string
}

// NormalizeFolderPath trims a trailing separator and rejects relative paths
// and empty segments.
func NormalizeFolderPath(path string) (string, error) {
	if !strings.HasPrefix(path, RootFolder) {
		return "", Preconditionf("folder path %q is not absolute", path)
	}
	if path == RootFolder {
		return path, nil
	}
	path = strings.TrimSuffix(path, PathSep)
	if strings.Contains(path, PathSep+PathSep) {
		return "", Preconditionf("folder path %q has an empty segment", path)
	}
	return path, nil
}

// ParentFolder returns the parent of path; the root is its own parent.
func ParentFolder(path string) string {
	i := strings.LastIndex(path, PathSep)
	if i <= 0 {
		return RootFolder
	}
	return path[:i]
}

// FolderName returns the last segment of path.
func FolderName(path string) string {
	if path == RootFolder {
		return ""
	}
	return path[strings.LastIndex(path, PathSep)+1:]
}

// JoinFolder appends a child name to a parent path.
func JoinFolder(parent, name string) string {
	if parent == RootFolder {
		return RootFolder + name
	}
	return parent + PathSep + name
}

// AncestorFolders lists every proper ancestor of path from the outermost
// (excluding the root) inward.
func AncestorFolders(path string) []string {
	var out []string
	for i := 1; i < len(path); i++ {
		if path[i] == PathSep[0] {
			out = append(out, path[:i])
		}
	}
	return out
}

// IsSubFolder reports whether path equals folder or lies below it.
func IsSubFolder(path, folder string) bool {
	if folder == RootFolder {
		return strings.HasPrefix(path, RootFolder)
	}
	return path == folder || strings.HasPrefix(path, folder+PathSep)
}
