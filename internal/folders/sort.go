package folders

import (
	"slices"
	"sort"
	"strings"

	"biostore/pkg/domain"
)

// PathLess orders full folder paths: the recycle bin subtree first, then
// case-insensitive lexical order.
func PathLess(a, b string) bool {
	aBin, bBin := domain.IsFolderInRecycleBinSubtree(a), domain.IsFolderInRecycleBinSubtree(b)
	if aBin != bBin {
		return aBin
	}
	return strings.ToLower(a) < strings.ToLower(b)
}

// NameLess orders bare folder names case-insensitively.
func NameLess(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

// InsertSorted inserts a full folder path into the sorted list and returns
// the new list and the insertion index. The recycle bin always goes first
// and the rest is ordered by PathLess. An insertion that would land on the
// recycle bin moves one slot later.
func InsertSorted(list []string, value string) ([]string, int) {
	return insertSorted(list, value, domain.RecycleBinFolder, PathLess)
}

// InsertSortedName inserts a bare child name into the sorted child listing
// of parent. Only the root's listing keeps the recycle bin at its head; a
// user folder named like the recycle bin elsewhere sorts by name.
func InsertSortedName(names []string, parent, name string) ([]string, int) {
	pinned := ""
	if parent == domain.RootFolder {
		pinned = domain.RecycleBinName
	}
	return insertSorted(names, name, pinned, NameLess)
}

func insertSorted(list []string, value, pinned string, less func(a, b string) bool) ([]string, int) {
	if pinned != "" && value == pinned {
		return slices.Insert(list, 0, value), 0
	}
	start := 0
	if pinned != "" && len(list) > 0 && list[0] == pinned {
		start = 1
	}
	i := start + upperBound(list[start:], value, less)
	if pinned != "" && i < len(list) && list[i] == pinned {
		i++
	}
	return slices.Insert(list, i, value), i
}

func upperBound[T any](list []T, v T, less func(a, b T) bool) int {
	return sort.Search(len(list), func(i int) bool { return less(v, list[i]) })
}

func objectLess(a, b domain.Object) bool {
	return strings.ToLower(a.Name) < strings.ToLower(b.Name)
}

func insertObject(list []domain.Object, obj domain.Object) []domain.Object {
	return slices.Insert(list, upperBound(list, obj, objectLess), obj)
}
