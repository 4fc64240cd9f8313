package catalog

import (
	"errors"
	"fmt"
)

// EntityKind names the entity classes a lookup can fail on.
type EntityKind string

const (
	KindCategory    EntityKind = "category"
	KindSubcategory EntityKind = "subcategory"
	KindItem        EntityKind = "item"
	KindItemImage   EntityKind = "item image"
	KindUser        EntityKind = "user"
)

// NotFoundError reports that an identifier did not resolve to a live,
// correctly-scoped entity. An id that exists under a different parent
// is reported the same way as one that never existed.
type NotFoundError struct {
	Kind EntityKind
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError of any kind.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IntegrityError reports a referential violation caught before commit,
// such as an item pointing at a subcategory of a different category.
type IntegrityError struct {
	Field  string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %s", e.Field, e.Reason)
}

// ErrCrossCategoryReference builds the integrity error for an item whose
// subcategory belongs to another category.
func ErrCrossCategoryReference(subcategoryID int64) *IntegrityError {
	return &IntegrityError{
		Field:  "subcategory_id",
		Reason: fmt.Sprintf("subcategory %d belongs to a different category", subcategoryID),
	}
}
