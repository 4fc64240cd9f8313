package catalog

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Category is the root of the hierarchy. It owns zero or more
// subcategories and zero or more directly-attached items.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Subcategory groups items under a category. Its name is unique only
// within the parent category, not globally.
type Subcategory struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CategoryID int64  `json:"category_id"`
}

// Item belongs to exactly one category and optionally one subcategory.
// When SubcategoryID is set, that subcategory must belong to the same
// category; the store rejects cross-category references on every mutation.
type Item struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	CategoryID    int64     `json:"category_id"`
	SubcategoryID *int64    `json:"subcategory_id,omitempty"`
	Added         time.Time `json:"added"`
	Updated       time.Time `json:"updated"`
}

// ItemImage is the single image record an item may own. Filename refers
// to an artifact in the upload store.
type ItemImage struct {
	ID       int64  `json:"id"`
	ItemID   int64  `json:"item_id"`
	Filename string `json:"filename"`
}

// User is an identity record created lazily on first federated login.
// Local login never creates one, and nothing in the catalog deletes one.
type User struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
}

// Slug returns a URL-friendly form of a name, used purely for readable
// paths; lookups always go by numeric id.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// PathSegment renders the "{id}-{slug}" form used in catalog URLs.
func PathSegment(id int64, name string) string {
	s := Slug(name)
	if s == "" {
		return strconv.FormatInt(id, 10)
	}
	return strconv.FormatInt(id, 10) + "-" + s
}

// ParseSegment extracts the numeric id from an "{id}-{slug}" path
// segment. Only the prefix before the first dash is significant; the
// slug portion is decorative and never checked.
func ParseSegment(segment string) (int64, error) {
	idPart := segment
	if i := strings.IndexByte(segment, '-'); i >= 0 {
		idPart = segment[:i]
	}
	return strconv.ParseInt(idPart, 10, 64)
}
