// Package brands lists the analytics properties a user can chat about.
package brands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var ErrNotFound = errors.New("brands: not found")

// Brand binds a display name to an analytics property.
type Brand struct {
	Name       string `json:"name"`
	PropertyID string `json:"property_id"`
	Account    string `json:"account,omitempty"`
}

type Lister interface {
	ListBrands(ctx context.Context) ([]Brand, error)
}

// Find returns the brand whose name matches case-insensitively.
func Find(ctx context.Context, lister Lister, name string) (Brand, error) {
	all, err := lister.ListBrands(ctx)
	if err != nil {
		return Brand{}, err
	}
	name = strings.TrimSpace(name)
	for _, b := range all {
		if strings.EqualFold(b.Name, name) {
			return b, nil
		}
	}
	return Brand{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func sortByName(list []Brand) {
	slices.SortStableFunc(list, func(a, b Brand) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.PropertyID, b.PropertyID)
	})
}

// Static serves a fixed brand list, parsed from "Name=123,Other=456".
type Static struct {
	brands []Brand
}

func ParseStatic(raw string) (*Static, error) {
	var list []Brand
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, id, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		id = strings.TrimPrefix(strings.TrimSpace(id), "properties/")
		if !ok || name == "" || id == "" {
			return nil, fmt.Errorf("invalid brand entry %q, want Name=propertyID", entry)
		}
		list = append(list, Brand{Name: name, PropertyID: id})
	}
	sortByName(list)
	return &Static{brands: list}, nil
}

func (s *Static) ListBrands(context.Context) ([]Brand, error) {
	return append([]Brand(nil), s.brands...), nil
}
