// Package folders keeps an in-memory index of a database's folder tree and
// the objects filed in it, in the order a tree view lists them.
package folders

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// Model is the folder index of one database. When it is backed by an
// ObjectDbi every mutation is applied to the database first and to the
// index only when that succeeds.
type Model struct {
	db     dbi.ObjectDbi
	logger *slog.Logger

	mu            sync.Mutex
	known         map[string]struct{}
	folders       []string
	objectFolders map[domain.EntityID]string
	folderObjects map[string][]domain.Object
	subNames      map[string][]string

	ignoredObjects map[domain.EntityID]struct{}
	ignoredFolders map[string]struct{}
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns an empty index that is not backed by a database.
func New(opts ...Option) *Model {
	m := &Model{
		logger:         slog.Default(),
		known:          map[string]struct{}{domain.RootFolder: {}},
		objectFolders:  map[domain.EntityID]string{},
		folderObjects:  map[string][]domain.Object{},
		subNames:       map[string][]string{},
		ignoredObjects: map[domain.EntityID]struct{}{},
		ignoredFolders: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load builds the index from the folders and object placements stored in db.
// Ancestors implied by a stored path are added even when the database does
// not record them.
func Load(ctx context.Context, db dbi.ObjectDbi, opts ...Option) (*Model, error) {
	folders, err := db.GetFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}
	placed, err := db.GetObjectFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("load object folders: %w", err)
	}
	m := New(opts...)
	m.db = db
	for _, of := range placed {
		folders = append(folders, of.Folder)
		m.objectFolders[of.Object.ID] = of.Folder
		m.folderObjects[of.Folder] = insertObject(m.folderObjects[of.Folder], of.Object)
	}
	for _, f := range folders {
		for _, p := range append(domain.AncestorFolders(f), f) {
			if _, ok := m.known[p]; ok {
				continue
			}
			m.known[p] = struct{}{}
			m.folders = append(m.folders, p)
		}
	}
	slices.SortFunc(m.folders, func(a, b string) int {
		switch {
		case PathLess(a, b):
			return -1
		case PathLess(b, a):
			return 1
		}
		return 0
	})
	m.logger.Debug("folder index loaded",
		slog.Int("folders", len(m.folders)),
		slog.Int("objects", len(m.objectFolders)))
	return m, nil
}

// HasFolder reports whether path is in the index. The root always is.
func (m *Model) HasFolder(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.known[path]
	return ok
}

// AllFolders returns every folder except the root in display order.
func (m *Model) AllFolders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.folders)
}

// ObjectFolder returns the folder an object is filed in.
func (m *Model) ObjectFolder(id domain.EntityID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.objectFolders[id]
	return f, ok
}

// AddFolder adds path. Missing ancestors are added too, except inside the
// recycle bin where only the path itself is recorded.
func (m *Model) AddFolder(ctx context.Context, path string) error {
	path, err := domain.NormalizeFolderPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[path]; ok {
		return domain.Preconditionf("folder %q already exists", path)
	}
	if m.db != nil {
		if err := m.db.CreateFolder(ctx, path); err != nil {
			return fmt.Errorf("add folder %q: %w", path, err)
		}
	}
	if !domain.IsFolderInRecycleBin(path) {
		for _, p := range domain.AncestorFolders(path) {
			if _, ok := m.known[p]; !ok {
				m.addFolder(p)
			}
		}
	}
	m.addFolder(path)
	return nil
}

// RenameFolder moves oldPath and its whole subtree to newPath, carrying the
// objects along.
func (m *Model) RenameFolder(ctx context.Context, oldPath, newPath string) error {
	newPath, err := domain.NormalizeFolderPath(newPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[oldPath]; !ok || domain.IsSystemFolder(oldPath) {
		return domain.Preconditionf("folder %q cannot be renamed", oldPath)
	}
	if _, ok := m.known[newPath]; ok {
		return domain.Preconditionf("folder %q already exists", newPath)
	}
	if domain.IsSubFolder(newPath, oldPath) {
		return domain.Preconditionf("folder %q cannot move into itself", oldPath)
	}
	if m.db != nil {
		if err := m.db.RenameFolder(ctx, oldPath, newPath); err != nil {
			return fmt.Errorf("rename folder %q: %w", oldPath, err)
		}
	}
	if !domain.IsFolderInRecycleBin(newPath) {
		for _, p := range domain.AncestorFolders(newPath) {
			if _, ok := m.known[p]; !ok {
				m.addFolder(p)
			}
		}
	}
	// Deepest folders go first so every parent still exists while its
	// children move.
	subtree := append([]string{oldPath}, m.allSubFolders(oldPath)...)
	for i := len(subtree) - 1; i >= 0; i-- {
		prev := subtree[i]
		next := newPath + prev[len(oldPath):]
		for _, obj := range slices.Clone(m.folderObjects[prev]) {
			m.moveObject(obj, prev, next)
		}
		m.removeFolder(prev)
		m.addFolder(next)
	}
	m.logger.Debug("folder renamed", slog.String("from", oldPath), slog.String("to", newPath))
	return nil
}

// RemoveFolder removes path, its subtree and every object filed there.
func (m *Model) RemoveFolder(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[path]; !ok || domain.IsSystemFolder(path) {
		return domain.Preconditionf("folder %q cannot be removed", path)
	}
	if m.db != nil {
		if err := m.db.RemoveFolder(ctx, path); err != nil {
			return fmt.Errorf("remove folder %q: %w", path, err)
		}
	}
	subtree := append([]string{path}, m.allSubFolders(path)...)
	for i := len(subtree) - 1; i >= 0; i-- {
		p := subtree[i]
		for _, obj := range m.folderObjects[p] {
			delete(m.objectFolders, obj.ID)
		}
		m.removeFolder(p)
	}
	return nil
}

// FolderRowInParent returns the row a new folder would take among its
// siblings.
func (m *Model) FolderRowInParent(path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, name := domain.ParentFolder(path), domain.FolderName(path)
	names := m.subFolderNames(parent)
	if slices.Contains(names, name) {
		return 0, domain.Preconditionf("folder %q already exists", path)
	}
	_, i := InsertSortedName(slices.Clone(names), parent, name)
	return i, nil
}

// ObjectRowInParent returns the row a new object would take in parent.
// Objects are listed after all subfolders.
func (m *Model) ObjectRowInParent(obj domain.Object, parent string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objectFolders[obj.ID]; ok {
		return 0, domain.Preconditionf("object %s is already filed", obj.ID)
	}
	objs := m.objects(parent)
	return len(m.subFolders(parent)) + upperBound(objs, obj, objectLess), nil
}

// SubFolders lists the direct children of parent. Folders inside the
// recycle bin have no visible children.
func (m *Model) SubFolders(parent string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.subFolders(parent))
}

// SubFoldersNatural lists the direct children of parent without hiding the
// recycle bin contents.
func (m *Model) SubFoldersNatural(parent string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childPaths(parent, m.subFolderNames(parent))
}

// Objects lists the objects filed in parent. Folders inside the recycle bin
// have no visible objects.
func (m *Model) Objects(parent string) []domain.Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.objects(parent))
}

// ObjectsNatural lists the objects filed in parent, recycle bin included.
func (m *Model) ObjectsNatural(parent string) []domain.Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.folderObjects[parent])
}

// AllSubFolders returns every descendant of path, breadth first.
func (m *Model) AllSubFolders(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allSubFolders(path)
}

// ParentFolder returns the folder a tree view shows path under: anything
// inside the recycle bin is shown directly under the recycle bin.
func ParentFolder(path string) string {
	if domain.IsFolderInRecycleBin(path) {
		return domain.RecycleBinFolder
	}
	return domain.ParentFolder(path)
}

// AddObject files obj in folder, which must be in the index.
func (m *Model) AddObject(obj domain.Object, folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objectFolders[obj.ID]; ok {
		return domain.Preconditionf("object %s is already filed", obj.ID)
	}
	if _, ok := m.known[folder]; !ok {
		return domain.Preconditionf("folder %q is unknown", folder)
	}
	m.objectFolders[obj.ID] = folder
	m.folderObjects[folder] = insertObject(m.folderObjects[folder], obj)
	return nil
}

// RemoveObject drops an object from the index.
func (m *Model) RemoveObject(id domain.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	folder, ok := m.objectFolders[id]
	if !ok {
		return domain.NotFound(id)
	}
	delete(m.objectFolders, id)
	m.folderObjects[folder] = slices.DeleteFunc(m.folderObjects[folder], func(o domain.Object) bool {
		return o.ID == id
	})
	return nil
}

// MoveObject refiles an object into folder.
func (m *Model) MoveObject(ctx context.Context, id domain.EntityID, folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, ok := m.objectFolders[id]
	if !ok {
		return domain.NotFound(id)
	}
	if _, ok := m.known[folder]; !ok {
		return domain.Preconditionf("folder %q is unknown", folder)
	}
	if from == folder {
		return nil
	}
	if m.db != nil {
		if err := m.db.MoveObjects(ctx, []domain.EntityID{id}, from, folder); err != nil {
			return fmt.Errorf("move object %s: %w", id, err)
		}
	}
	i := slices.IndexFunc(m.folderObjects[from], func(o domain.Object) bool { return o.ID == id })
	m.moveObject(m.folderObjects[from][i], from, folder)
	return nil
}

// CachedSubFolders reports whether the child listing of parent is cached.
func (m *Model) CachedSubFolders(parent string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subNames[parent]
	return ok
}

func (m *Model) addFolder(path string) {
	m.known[path] = struct{}{}
	parent := domain.ParentFolder(path)
	if names, ok := m.subNames[parent]; ok {
		m.subNames[parent], _ = InsertSortedName(names, parent, domain.FolderName(path))
	}
	m.folders, _ = InsertSorted(m.folders, path)
}

func (m *Model) removeFolder(path string) {
	delete(m.subNames, path)
	parent := domain.ParentFolder(path)
	if names, ok := m.subNames[parent]; ok {
		m.subNames[parent] = slices.DeleteFunc(names, func(n string) bool { return n == domain.FolderName(path) })
	}
	delete(m.known, path)
	delete(m.folderObjects, path)
	m.folders = slices.DeleteFunc(m.folders, func(f string) bool { return f == path })
}

func (m *Model) moveObject(obj domain.Object, from, to string) {
	m.folderObjects[from] = slices.DeleteFunc(m.folderObjects[from], func(o domain.Object) bool {
		return o.ID == obj.ID
	})
	m.objectFolders[obj.ID] = to
	m.folderObjects[to] = insertObject(m.folderObjects[to], obj)
}

func (m *Model) objects(parent string) []domain.Object {
	if domain.IsFolderInRecycleBin(parent) {
		return nil
	}
	return m.folderObjects[parent]
}

func (m *Model) subFolders(parent string) []string {
	if domain.IsFolderInRecycleBin(parent) {
		return nil
	}
	return m.childPaths(parent, m.subFolderNames(parent))
}

func (m *Model) childPaths(parent string, names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, domain.JoinFolder(parent, n))
	}
	return out
}

// subFolderNames returns the cached child names of parent, computing them
// from the sorted folder list on a miss.
func (m *Model) subFolderNames(parent string) []string {
	if names, ok := m.subNames[parent]; ok {
		return names
	}
	var names []string
	seen := map[string]struct{}{}
	for _, f := range m.folders {
		if f == parent || !domain.IsSubFolder(f, parent) {
			continue
		}
		rest := f[len(parent):]
		if parent != domain.RootFolder {
			rest = rest[1:]
		}
		name, _, _ := strings.Cut(rest, domain.PathSep)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	m.subNames[parent] = names
	return names
}

func (m *Model) allSubFolders(path string) []string {
	var out []string
	queue := []string{path}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children := m.childPaths(p, m.subFolderNames(p))
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}
