package permissions

// Matrix holds the current, possibly locally edited, view of all permissions.
// admin_master is never stored; Get answers true for it unconditionally.
// The zero value is an empty, unloaded matrix.
type Matrix struct {
	catalog Catalog
	values  map[Key]bool
	loaded  bool
}

// NewMatrix returns an empty, unloaded matrix.
func NewMatrix() *Matrix {
	return &Matrix{values: make(map[Key]bool)}
}

// Load replaces the whole matrix from an authoritative snapshot.
// Entries for the sentinel level, unknown levels or inactive catalog
// entries are ignored.
func (m *Matrix) Load(levels []AccessLevel, resources []Resource, actions []Action, grants Grants) {
	m.catalog = NewCatalog(resources, actions)
	m.values = make(map[Key]bool)
	for _, level := range levels {
		if level.IsSentinel() || !level.Valid() {
			continue
		}
		byResource := grants[level]
		for _, r := range m.catalog.resources {
			byAction := byResource[r.Slug]
			for _, a := range m.catalog.actions {
				m.values[NewKey(level, r.Slug, a.Slug)] = byAction[a.Slug]
			}
		}
	}
	m.loaded = true
}

// LoadSnapshot is Load over every editable level.
func (m *Matrix) LoadSnapshot(s Snapshot) {
	m.Load(EditableLevels(), s.Resources, s.Actions, s.Permissions)
}

// Loaded reports whether a snapshot has been loaded.
func (m *Matrix) Loaded() bool {
	return m.loaded
}

// Catalog returns the catalog the matrix was loaded with.
func (m *Matrix) Catalog() Catalog {
	return m.catalog
}

// Get never fails: admin_master is always allowed, absent triples are denied.
func (m *Matrix) Get(level AccessLevel, resource, action string) bool {
	if level.IsSentinel() {
		return true
	}
	return m.values[NewKey(level, resource, action)]
}

// Set overwrites a stored value. admin_master is rejected with ErrImmutableLevel.
func (m *Matrix) Set(level AccessLevel, resource, action string, value bool) error {
	if level.IsSentinel() {
		return ErrImmutableLevel
	}
	if !level.Valid() {
		return ErrUnknownLevel
	}
	if m.values == nil {
		m.values = make(map[Key]bool)
	}
	m.values[NewKey(level, resource, action)] = value
	return nil
}

// Grants exports the stored values in wire shape, including the sentinel
// level expanded to all-true over the catalog.
func (m *Matrix) Grants() Grants {
	out := make(Grants, len(allLevels))
	for _, level := range allLevels {
		byResource := make(map[string]map[string]bool, len(m.catalog.resources))
		for _, r := range m.catalog.resources {
			byAction := make(map[string]bool, len(m.catalog.actions))
			for _, a := range m.catalog.actions {
				byAction[a.Slug] = m.Get(level, r.Slug, a.Slug)
			}
			byResource[r.Slug] = byAction
		}
		out[level] = byResource
	}
	return out
}

// Snapshot returns the matrix as a Snapshot value.
func (m *Matrix) Snapshot() Snapshot {
	return Snapshot{
		Resources:   m.catalog.Resources(),
		Actions:     m.catalog.Actions(),
		Permissions: m.Grants(),
	}
}
