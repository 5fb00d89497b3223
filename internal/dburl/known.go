package dburl

import (
	"fmt"

	"biostore/internal/settings"
	"biostore/pkg/domain"
)

// ConnectionsPath is the settings prefix the known databases live under.
const ConnectionsPath = "/shared_database/recent_connections/"

// KnownDatabases maps user chosen short names to database urls.
type KnownDatabases struct {
	store settings.Store
}

// NewKnownDatabases reads and writes short names through store.
func NewKnownDatabases(store settings.Store) *KnownDatabases {
	return &KnownDatabases{store: store}
}

// Save records dbURL under shortName, replacing any previous url.
func (k *KnownDatabases) Save(shortName, dbURL string) error {
	if shortName == "" {
		return domain.Preconditionf("empty connection name")
	}
	if !ValidateDbURL(dbURL) {
		return malformed(dbURL, "not a database url")
	}
	if err := k.store.SetValue(ConnectionsPath+shortName, dbURL); err != nil {
		return fmt.Errorf("save connection %s: %w", shortName, err)
	}
	return nil
}

// Remove forgets shortName.
func (k *KnownDatabases) Remove(shortName string) error {
	return k.store.Remove(ConnectionsPath + shortName)
}

// Names lists the known short names, sorted.
func (k *KnownDatabases) Names() []string {
	return k.store.Keys(ConnectionsPath)
}

// Lookup returns the database url saved under shortName.
func (k *KnownDatabases) Lookup(shortName string) (string, bool) {
	return k.store.Value(ConnectionsPath + shortName)
}

// All returns every short name with its database url.
func (k *KnownDatabases) All() map[string]string {
	out := map[string]string{}
	for _, name := range k.Names() {
		if v, ok := k.Lookup(name); ok {
			out[name] = v
		}
	}
	return out
}

// ShortName returns the display name for the database an entity url points
// to: the saved short name when there is one, otherwise the database id.
// Undecodable input is returned as is.
func (k *KnownDatabases) ShortName(url string) string {
	ref, err := DbRefFromEntityURL(url)
	if err != nil {
		return url
	}
	for _, name := range k.Names() {
		saved, ok := k.Lookup(name)
		if !ok {
			continue
		}
		if savedRef, err := DbRefFromEntityURL(saved); err == nil && savedRef == ref {
			return name
		}
	}
	return ref.DbiID
}
