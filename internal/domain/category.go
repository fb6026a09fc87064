// Package domain holds the plain data of the work-assignment economy:
// validators, work items, price samples, engine modes and snapshots.
// Nothing here has behavior beyond validation and formatting.
package domain

import (
	"fmt"
	"strings"
)

// Category is the kind of work an item carries and the kind a validator specializes in.
type Category string

const (
	CategoryCrypto Category = "crypto"
	CategorySupply Category = "supply"
	CategoryML     Category = "ml"
)

var categories = []Category{CategoryCrypto, CategorySupply, CategoryML}

// Categories returns the fixed category set in canonical order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s and checks it against the category set.
// The empty string is not a category; callers treat it as "draw one at random".
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}
