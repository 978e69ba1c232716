package shared

// Versioned carries the optimistic-concurrency counter of an aggregate.
// Version is bumped by every successful mutation; loaded remembers the
// value the aggregate had when it was read from (or last written to)
// storage, and is what a compare-and-swap write checks against.
type Versioned struct {
	Version uint64
	loaded  uint64
}

func (v *Versioned) Bump() { v.Version++ }

func (v Versioned) CurrentVersion() uint64 { return v.Version }

// LoadedVersion is the version the storage layer is expected to hold.
func (v Versioned) LoadedVersion() uint64 { return v.loaded }

// IsNew reports whether the aggregate has never been persisted.
func (v Versioned) IsNew() bool { return v.loaded == 0 }

// MarkPersisted records that storage now holds the current version.
// Repositories call it after a successful load or save.
func (v *Versioned) MarkPersisted() { v.loaded = v.Version }

// Restore marks v as loaded from storage at the given version.
func (v *Versioned) Restore(version uint64) {
	v.Version = version
	v.loaded = version
}
