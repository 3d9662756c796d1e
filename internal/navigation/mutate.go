package navigation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCategoryNotFound  = errors.New("navigation item not found")
	ErrDuplicateCategory = errors.New("navigation item already exists")
	ErrInvalidCategory   = errors.New("navigation item is invalid")
	ErrInvalidPosition   = errors.New("position out of range")
)

// Change is the result of a mutation. Changed is false when the document
// already satisfied the request; such a change must not be persisted.
type Change struct {
	Document Document
	Changed  bool
	Summary  string
}

func unchanged(doc Document, summary string) Change {
	return Change{Document: doc, Changed: false, Summary: summary}
}

// Find returns the category with id and its position.
func Find(doc Document, id string) (Category, int, bool) {
	for index, category := range doc.NavigationItems {
		if category.ID == id {
			return category, index, true
		}
	}
	return Category{}, -1, false
}

// MoveToBottom removes the category from its position and appends it. The
// relative order of every other category is preserved.
func MoveToBottom(doc Document, id string) (Change, error) {
	category, index, ok := Find(doc, id)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
	}
	summary := fmt.Sprintf("Move navigation item %q to bottom", category.Title)
	last := len(doc.NavigationItems) - 1
	if index == last {
		return unchanged(doc, "Item is already at the bottom"), nil
	}

	items := make([]Category, 0, len(doc.NavigationItems))
	items = append(items, doc.NavigationItems[:index]...)
	items = append(items, doc.NavigationItems[index+1:]...)
	items = append(items, category)

	out := doc
	out.NavigationItems = items
	return Change{Document: out, Changed: true, Summary: summary}, nil
}

// MoveToTop is the mirror of MoveToBottom.
func MoveToTop(doc Document, id string) (Change, error) {
	category, index, ok := Find(doc, id)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
	}
	if index == 0 {
		return unchanged(doc, "Item is already at the top"), nil
	}
	change, err := Move(doc, id, 0)
	if err != nil {
		return Change{}, err
	}
	change.Summary = fmt.Sprintf("Move navigation item %q to top", category.Title)
	return change, nil
}

// Move places the category at position in the resulting order.
func Move(doc Document, id string, position int) (Change, error) {
	category, index, ok := Find(doc, id)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
	}
	if position < 0 || position >= len(doc.NavigationItems) {
		return Change{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidPosition, position, len(doc.NavigationItems))
	}
	if position == index {
		return unchanged(doc, fmt.Sprintf("Item is already at position %d", position)), nil
	}

	rest := removeAt(doc.NavigationItems, index)
	out := doc
	out.NavigationItems = insertAt(rest, position, category)
	return Change{
		Document: out,
		Changed:  true,
		Summary:  fmt.Sprintf("Move navigation item %q to position %d", category.Title, position),
	}, nil
}

// Insert adds category at position; a negative position appends.
func Insert(doc Document, category Category, position int) (Change, error) {
	if strings.TrimSpace(category.ID) == "" {
		return Change{}, fmt.Errorf("%w: id is required", ErrInvalidCategory)
	}
	if _, _, exists := Find(doc, category.ID); exists {
		return Change{}, fmt.Errorf("%w: %s", ErrDuplicateCategory, category.ID)
	}
	if position < 0 {
		position = len(doc.NavigationItems)
	}
	if position > len(doc.NavigationItems) {
		return Change{}, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidPosition, position, len(doc.NavigationItems))
	}

	out := doc
	out.NavigationItems = insertAt(doc.NavigationItems, position, category)
	return Change{
		Document: out,
		Changed:  true,
		Summary:  fmt.Sprintf("Add navigation item %q", category.Title),
	}, nil
}

// Remove deletes the category with id.
func Remove(doc Document, id string) (Change, error) {
	category, index, ok := Find(doc, id)
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
	}
	out := doc
	out.NavigationItems = removeAt(doc.NavigationItems, index)
	return Change{
		Document: out,
		Changed:  true,
		Summary:  fmt.Sprintf("Remove navigation item %q", category.Title),
	}, nil
}

func removeAt(items []Category, index int) []Category {
	out := make([]Category, 0, len(items)-1)
	out = append(out, items[:index]...)
	return append(out, items[index+1:]...)
}

func insertAt(items []Category, position int, category Category) []Category {
	out := make([]Category, 0, len(items)+1)
	out = append(out, items[:position]...)
	out = append(out, category)
	return append(out, items[position:]...)
}
