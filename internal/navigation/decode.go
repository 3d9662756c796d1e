package navigation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDocument reports a document whose shape cannot be trusted. No
// operation is attempted on such a document.
var ErrInvalidDocument = errors.New("invalid navigation document")

// Decode converts raw JSON into a validated Document. Every structural
// problem is reported as ErrInvalidDocument.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if errors.Is(err, ErrInvalidDocument) {
			return Document{}, err
		}
		return Document{}, invalidf("%v", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks invariants that span categories.
func (d Document) Validate() error {
	seen := make(map[string]int, len(d.NavigationItems))
	for index, category := range d.NavigationItems {
		if category.ID == "" {
			continue
		}
		if first, ok := seen[category.ID]; ok {
			return invalidf("duplicate category id %q at positions %d and %d", category.ID, first, index)
		}
		seen[category.ID] = index
	}
	return nil
}

func (d *Document) UnmarshalJSON(data []byte) error {
	members, err := decodeObject(data, "document")
	if err != nil {
		return err
	}
	raw, ok := members["navigationItems"]
	if !ok || isNull(raw) {
		return invalidf("navigationItems is missing")
	}
	delete(members, "navigationItems")

	elements, err := decodeArray(raw, "navigationItems")
	if err != nil {
		return err
	}
	categories := make([]Category, len(elements))
	for index, element := range elements {
		if err := categories[index].UnmarshalJSON(element); err != nil {
			return fmt.Errorf("navigationItems[%d]: %w", index, err)
		}
	}
	d.NavigationItems = categories
	d.extra = members
	return nil
}

func (c *Category) UnmarshalJSON(data []byte) error {
	members, err := decodeObject(data, "category")
	if err != nil {
		return err
	}
	var category Category
	if err := takeString(members, "id", &category.ID, &category.present, hasID); err != nil {
		return err
	}
	if err := takeString(members, "title", &category.Title, &category.present, hasTitle); err != nil {
		return err
	}
	if err := takeString(members, "icon", &category.Icon, &category.present, hasIcon); err != nil {
		return err
	}
	if category.Items, err = takeItems(members, &category.present); err != nil {
		return err
	}
	if category.SubCategories, err = takeSubCategories(members, &category.present); err != nil {
		return err
	}
	category.extra = members
	*c = category
	return nil
}

func (s *SubCategory) UnmarshalJSON(data []byte) error {
	members, err := decodeObject(data, "sub-category")
	if err != nil {
		return err
	}
	var sub SubCategory
	if err := takeString(members, "id", &sub.ID, &sub.present, hasID); err != nil {
		return err
	}
	if err := takeString(members, "title", &sub.Title, &sub.present, hasTitle); err != nil {
		return err
	}
	if err := takeString(members, "icon", &sub.Icon, &sub.present, hasIcon); err != nil {
		return err
	}
	if sub.Items, err = takeItems(members, &sub.present); err != nil {
		return err
	}
	sub.extra = members
	*s = sub
	return nil
}

func (i *Item) UnmarshalJSON(data []byte) error {
	members, err := decodeObject(data, "item")
	if err != nil {
		return err
	}
	var item Item
	if err := takeString(members, "icon", &item.Icon, &item.present, hasIcon); err != nil {
		return err
	}
	if item.Items, err = takeItems(members, &item.present); err != nil {
		return err
	}
	if item.SubCategories, err = takeSubCategories(members, &item.present); err != nil {
		return err
	}
	item.extra = members
	*i = item
	return nil
}

func takeItems(members fields, present *presence) ([]Item, error) {
	elements, ok, err := takeArray(members, "items")
	if err != nil || !ok {
		return nil, err
	}
	*present |= hasItems
	items := make([]Item, len(elements))
	for index, element := range elements {
		if err := items[index].UnmarshalJSON(element); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", index, err)
		}
	}
	return items, nil
}

func takeSubCategories(members fields, present *presence) ([]SubCategory, error) {
	elements, ok, err := takeArray(members, "subCategories")
	if err != nil || !ok {
		return nil, err
	}
	*present |= hasSubCategories
	subs := make([]SubCategory, len(elements))
	for index, element := range elements {
		if err := subs[index].UnmarshalJSON(element); err != nil {
			return nil, fmt.Errorf("subCategories[%d]: %w", index, err)
		}
	}
	return subs, nil
}

func decodeObject(data []byte, what string) (fields, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, invalidf("%s must be an object", what)
	}
	var members fields
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, invalidf("%s: %v", what, err)
	}
	if members == nil {
		members = fields{}
	}
	return members, nil
}

func decodeArray(raw json.RawMessage, key string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, invalidf("%s must be an array", key)
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, invalidf("%s: %v", key, err)
	}
	return elements, nil
}

// takeArray removes key from members. A null member counts as absent.
func takeArray(members fields, key string) ([]json.RawMessage, bool, error) {
	raw, ok := members[key]
	if !ok {
		return nil, false, nil
	}
	delete(members, key)
	if isNull(raw) {
		return nil, false, nil
	}
	elements, err := decodeArray(raw, key)
	if err != nil {
		return nil, false, err
	}
	return elements, true, nil
}

func takeString(members fields, key string, dst *string, present *presence, flag presence) error {
	raw, ok := members[key]
	if !ok {
		return nil
	}
	delete(members, key)
	if isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidf("%s must be a string", key)
	}
	*present |= flag
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDocument, fmt.Sprintf(format, args...))
}
