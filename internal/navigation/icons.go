package navigation

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultRawHost = "raw.githubusercontent.com"
	DefaultBranch  = "main"

	localAssetsPrefix = "/assets/"
)

// Coordinates locate the repository that serves local assets.
type Coordinates struct {
	Owner   string
	Repo    string
	Branch  string
	RawHost string
}

// Resolver rewrites local asset paths into absolute URLs. It never fails:
// incomplete coordinates leave references as they are.
type Resolver struct {
	coords Coordinates
	logger log.FieldLogger
}

func NewResolver(coords Coordinates, logger log.FieldLogger) *Resolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	coords.Owner = strings.TrimSpace(coords.Owner)
	coords.Repo = strings.TrimSpace(coords.Repo)
	if strings.TrimSpace(coords.Branch) == "" {
		coords.Branch = DefaultBranch
	}
	if strings.TrimSpace(coords.RawHost) == "" {
		coords.RawHost = DefaultRawHost
	}
	return &Resolver{coords: coords, logger: logger}
}

// ResolveIcon maps ref to a globally dereferenceable reference.
func (r *Resolver) ResolveIcon(ref string) string {
	if ref == "" || IsAbsoluteURL(ref) || !IsLocalAssetPath(ref) {
		return ref
	}
	if r.coords.Owner == "" || r.coords.Repo == "" {
		r.logger.WithField("icon", ref).Warn("icon: store coordinates not configured, keeping local path")
		return ref
	}
	return fmt.Sprintf("https://%s/%s/%s/%s/public%s",
		r.coords.RawHost,
		r.coords.Owner,
		r.coords.Repo,
		r.coords.Branch,
		ref,
	)
}

// ResolveDocument returns a copy of doc with every icon resolved.
func (r *Resolver) ResolveDocument(doc Document) Document {
	return doc.MapIcons(r.ResolveIcon)
}

func IsAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func IsLocalAssetPath(ref string) bool {
	return strings.HasPrefix(ref, localAssetsPrefix)
}

// MapIcons copies the tree, applying fn to every non-empty icon at every
// level. d is left untouched.
func (d Document) MapIcons(fn func(string) string) Document {
	out := d
	out.NavigationItems = mapSlice(d.NavigationItems, func(c Category) Category {
		c.Icon = mapIcon(c.Icon, fn)
		c.Items = mapItems(c.Items, fn)
		c.SubCategories = mapSubCategories(c.SubCategories, fn)
		return c
	})
	return out
}

func mapSubCategories(subs []SubCategory, fn func(string) string) []SubCategory {
	return mapSlice(subs, func(s SubCategory) SubCategory {
		s.Icon = mapIcon(s.Icon, fn)
		s.Items = mapItems(s.Items, fn)
		return s
	})
}

// mapItems recurses through an item's own children.
func mapItems(items []Item, fn func(string) string) []Item {
	return mapSlice(items, func(i Item) Item {
		i.Icon = mapIcon(i.Icon, fn)
		i.Items = mapItems(i.Items, fn)
		i.SubCategories = mapSubCategories(i.SubCategories, fn)
		return i
	})
}

func mapIcon(icon string, fn func(string) string) string {
	if icon == "" {
		return icon
	}
	return fn(icon)
}

func mapSlice[T any](in []T, fn func(T) T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	for index, value := range in {
		out[index] = fn(value)
	}
	return out
}
