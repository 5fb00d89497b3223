package folders

import "biostore/pkg/domain"

// SetIgnoredObjects replaces the set of objects hidden by the filter.
func (m *Model) SetIgnoredObjects(ids ...domain.EntityID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.ignoredObjects)
	for _, id := range ids {
		m.ignoredObjects[id] = struct{}{}
	}
}

// IgnoreObject hides one more object.
func (m *Model) IgnoreObject(id domain.EntityID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoredObjects[id] = struct{}{}
}

// UnignoreObject makes a hidden object visible again.
func (m *Model) UnignoreObject(id domain.EntityID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ignoredObjects, id)
}

// IsObjectIgnored reports whether the object is hidden.
func (m *Model) IsObjectIgnored(id domain.EntityID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ignoredObjects[id]
	return ok
}

// SetIgnoredFolders replaces the set of folders hidden by the filter.
func (m *Model) SetIgnoredFolders(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.ignoredFolders)
	for _, p := range paths {
		m.ignoredFolders[p] = struct{}{}
	}
}

// IgnoreFolder hides path and everything below it.
func (m *Model) IgnoreFolder(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoredFolders[path] = struct{}{}
}

// UnignoreFolder drops path from the hidden set.
func (m *Model) UnignoreFolder(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ignoredFolders, path)
}

// IsFolderIgnored reports whether path or one of its ancestors is hidden.
func (m *Model) IsFolderIgnored(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ignored := range m.ignoredFolders {
		if domain.IsSubFolder(path, ignored) {
			return true
		}
	}
	return false
}
