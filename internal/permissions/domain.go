package permissions

import (
	"fmt"
	"sort"
	"strings"
)

// AccessLevel is a coarse role gating what a user may see and change.
type AccessLevel string

// Known access levels. AdminMaster is never stored: it holds every permission.
const (
	AdminMaster AccessLevel = "admin_master"
	Admin       AccessLevel = "admin"
	Usuario     AccessLevel = "usuario"
	Visitante   AccessLevel = "visitante"
)

var allLevels = []AccessLevel{AdminMaster, Admin, Usuario, Visitante}

// Levels returns every access level, sentinel first.
func Levels() []AccessLevel {
	out := make([]AccessLevel, len(allLevels))
	copy(out, allLevels)
	return out
}

// EditableLevels returns the levels whose grants are stored and may be changed.
func EditableLevels() []AccessLevel {
	return []AccessLevel{Admin, Usuario, Visitante}
}

// ParseAccessLevel normalises raw input into a known AccessLevel.
func ParseAccessLevel(raw string) (AccessLevel, error) {
	level := AccessLevel(strings.ToLower(strings.TrimSpace(raw)))
	if !level.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, raw)
	}
	return level, nil
}

// Valid reports whether the level is one of the known levels.
func (l AccessLevel) Valid() bool {
	for _, known := range allLevels {
		if l == known {
			return true
		}
	}
	return false
}

// IsSentinel reports whether the level is the implicit all-access level.
func (l AccessLevel) IsSentinel() bool {
	return l == AdminMaster
}

func (l AccessLevel) String() string {
	return string(l)
}

// Resource is a subsystem or entity type subject to permission checks.
type Resource struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	Active      bool   `json:"active"`
	Order       int    `json:"order"`
}

// Action is an operation class applicable to a resource.
type Action struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	Active      bool   `json:"active"`
	Order       int    `json:"order"`
}

// Catalog is the lookup table of active resources and actions for one session.
type Catalog struct {
	resources []Resource
	actions   []Action
	resBySlug map[string]Resource
	actBySlug map[string]Action
}

// NewCatalog keeps active entries only and orders them by Order, then slug.
func NewCatalog(resources []Resource, actions []Action) Catalog {
	c := Catalog{
		resBySlug: make(map[string]Resource, len(resources)),
		actBySlug: make(map[string]Action, len(actions)),
	}
	for _, r := range resources {
		if !r.Active || r.Slug == "" {
			continue
		}
		if _, dup := c.resBySlug[r.Slug]; dup {
			continue
		}
		c.resBySlug[r.Slug] = r
		c.resources = append(c.resources, r)
	}
	for _, a := range actions {
		if !a.Active || a.Slug == "" {
			continue
		}
		if _, dup := c.actBySlug[a.Slug]; dup {
			continue
		}
		c.actBySlug[a.Slug] = a
		c.actions = append(c.actions, a)
	}
	sort.SliceStable(c.resources, func(i, j int) bool {
		if c.resources[i].Order == c.resources[j].Order {
			return c.resources[i].Slug < c.resources[j].Slug
		}
		return c.resources[i].Order < c.resources[j].Order
	})
	sort.SliceStable(c.actions, func(i, j int) bool {
		if c.actions[i].Order == c.actions[j].Order {
			return c.actions[i].Slug < c.actions[j].Slug
		}
		return c.actions[i].Order < c.actions[j].Order
	})
	return c
}

// Resources returns the active resources in display order.
func (c Catalog) Resources() []Resource {
	out := make([]Resource, len(c.resources))
	copy(out, c.resources)
	return out
}

// Actions returns the active actions in display order.
func (c Catalog) Actions() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

// Resource looks up an active resource by slug.
func (c Catalog) Resource(slug string) (Resource, bool) {
	r, ok := c.resBySlug[slug]
	return r, ok
}

// Action looks up an active action by slug.
func (c Catalog) Action(slug string) (Action, bool) {
	a, ok := c.actBySlug[slug]
	return a, ok
}

// Key identifies one permission triple. It is comparable and used as a map key.
type Key struct {
	Level    AccessLevel
	Resource string
	Action   string
}

// NewKey builds a Key.
func NewKey(level AccessLevel, resource, action string) Key {
	return Key{Level: level, Resource: resource, Action: action}
}

func (k Key) String() string {
	return string(k.Level) + ":" + k.Resource + ":" + k.Action
}

// ParseKey parses "level:resource:action".
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("permissions: key %q must be level:resource:action", raw)
	}
	level, err := ParseAccessLevel(parts[0])
	if err != nil {
		return Key{}, err
	}
	resource := strings.TrimSpace(parts[1])
	action := strings.TrimSpace(parts[2])
	if resource == "" || action == "" {
		return Key{}, fmt.Errorf("permissions: key %q has empty segment", raw)
	}
	return Key{Level: level, Resource: resource, Action: action}, nil
}

// Change is one proposed mutation of the matrix.
type Change struct {
	Key     Key
	Allowed bool
}

// Grants is the wire shape of the permission grid: level -> resource -> action -> allowed.
type Grants map[AccessLevel]map[string]map[string]bool

// Snapshot is the authoritative state returned by the read API.
type Snapshot struct {
	Resources   []Resource `json:"resources"`
	Actions     []Action   `json:"actions"`
	Permissions Grants     `json:"permissions"`
}

// DiffEntry describes a staged change against the authoritative value.
type DiffEntry struct {
	Key Key
	Old bool
	New bool
}
