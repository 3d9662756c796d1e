// Package navigation models the navigation document: an ordered list of
// categories, each holding items and sub-categories, every level carrying an
// optional icon reference.
//
// Values in this package are treated as immutable. Operations return new
// documents and share untouched slices and pass-through fields with their
// input, so callers must not modify a Document in place.
package navigation

import (
	"bytes"
	"encoding/json"
)

// Document is the unit of persistence.
type Document struct {
	NavigationItems []Category

	extra fields
}

// Category is a top-level navigation entry.
type Category struct {
	ID            string
	Title         string
	Icon          string
	Items         []Item
	SubCategories []SubCategory

	extra   fields
	present presence
}

// SubCategory groups items below a category.
type SubCategory struct {
	ID    string
	Title string
	Icon  string
	Items []Item

	extra   fields
	present presence
}

// Item is a link. Besides the icon only its optional children are
// interpreted; title, href, description and any other member are carried
// through untouched. Items nest to any depth through Items and SubCategories.
type Item struct {
	Icon          string
	Items         []Item
	SubCategories []SubCategory

	extra   fields
	present presence
}

// Title returns the item's title member when it is a string.
func (i Item) Title() string {
	var title string
	if raw, ok := i.extra["title"]; ok {
		_ = json.Unmarshal(raw, &title)
	}
	return title
}

// fields holds JSON members the model does not interpret.
type fields map[string]json.RawMessage

// presence records which interpreted members appeared in the source, so an
// explicitly empty value survives a round trip.
type presence uint8

const (
	hasID presence = 1 << iota
	hasTitle
	hasIcon
	hasItems
	hasSubCategories
)

func (d Document) MarshalJSON() ([]byte, error) {
	out := d.extra.clone()
	out["navigationItems"] = nonNil(d.NavigationItems)
	return marshalObject(out)
}

func (c Category) MarshalJSON() ([]byte, error) {
	out := c.extra.clone()
	putString(out, "id", c.ID, c.present&hasID != 0)
	putString(out, "title", c.Title, c.present&hasTitle != 0)
	putString(out, "icon", c.Icon, c.present&hasIcon != 0)
	if len(c.Items) > 0 || c.present&hasItems != 0 {
		out["items"] = nonNil(c.Items)
	}
	if len(c.SubCategories) > 0 || c.present&hasSubCategories != 0 {
		out["subCategories"] = nonNil(c.SubCategories)
	}
	return marshalObject(out)
}

func (s SubCategory) MarshalJSON() ([]byte, error) {
	out := s.extra.clone()
	putString(out, "id", s.ID, s.present&hasID != 0)
	putString(out, "title", s.Title, s.present&hasTitle != 0)
	putString(out, "icon", s.Icon, s.present&hasIcon != 0)
	if len(s.Items) > 0 || s.present&hasItems != 0 {
		out["items"] = nonNil(s.Items)
	}
	return marshalObject(out)
}

func (i Item) MarshalJSON() ([]byte, error) {
	out := i.extra.clone()
	putString(out, "icon", i.Icon, i.present&hasIcon != 0)
	if len(i.Items) > 0 || i.present&hasItems != 0 {
		out["items"] = nonNil(i.Items)
	}
	if len(i.SubCategories) > 0 || i.present&hasSubCategories != 0 {
		out["subCategories"] = nonNil(i.SubCategories)
	}
	return marshalObject(out)
}

// Encode serializes doc with two-space indentation. Members of every
// interpreted object are written in key order; uninterpreted values are
// written as they were read. Encoding a decoded document again yields the
// same bytes.
func Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f fields) clone() map[string]any {
	out := make(map[string]any, len(f)+5)
	for key, value := range f {
		out[key] = value
	}
	return out
}

func putString(out map[string]any, key, value string, present bool) {
	if value != "" || present {
		out[key] = value
	}
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}

// marshalObject encodes a map with sorted keys and without HTML escaping,
// matching what the document editor writes.
func marshalObject(value map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
