// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog defines the diagnostic command catalog.
//
// A Catalog is an ordered, immutable list of categories. Each category
// owns an output-file prefix and the shell commands whose combined output
// becomes one file. Catalogs are built once at startup and passed by value
// into the pipeline; nothing in this package holds global mutable state.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptyPrefix is returned for a category without an output prefix.
	ErrEmptyPrefix = errors.New("category prefix is empty")

	// ErrInvalidPrefix is returned for a prefix that cannot be used as a
	// file name component.
	ErrInvalidPrefix = errors.New("category prefix is not a valid file name component")

	// ErrNoCommands is returned for a category with no commands.
	ErrNoCommands = errors.New("category has no commands")

	// ErrEmptyCommand is returned when a command string is blank.
	ErrEmptyCommand = errors.New("category command is blank")

	// ErrDuplicatePrefix is returned when two categories share a prefix.
	ErrDuplicatePrefix = errors.New("duplicate category prefix")

	// ErrEmptyCatalog is returned when a catalog has no categories.
	ErrEmptyCatalog = errors.New("catalog has no categories")
)

// -----------------------------------------------------------------------------
// Category
// -----------------------------------------------------------------------------

// Category is a named group of shell commands whose combined output
// becomes one category file.
//
// # Description
//
// The prefix is the category's identity and the leading part of its
// output file name. Commands run in declared order. A Category is
// immutable once built: Commands returns a copy.
//
// # Thread Safety
//
// Safe for concurrent use.
type Category struct {
	prefix   string
	commands []string
}

// NewCategory validates and builds a category.
//
// # Inputs
//
//   - prefix: Output file prefix, e.g. "logcat_". Must not contain a path
//     separator.
//   - commands: One or more raw shell command strings. Strings are passed
//     to the shell unmodified, so callers own their quoting.
//
// # Outputs
//
//   - Category: The built category.
//   - error: ErrEmptyPrefix, ErrInvalidPrefix, ErrNoCommands or
//     ErrEmptyCommand, wrapped with the offending prefix.
//
// # Examples
//
//	cat, err := catalog.NewCategory("k_", "echo A", "echo B")
func NewCategory(prefix string, commands ...string) (Category, error) {
	if prefix == "" {
		return Category{}, ErrEmptyPrefix
	}
	if strings.ContainsAny(prefix, `/\`) || prefix == "." || prefix == ".." {
		return Category{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	if len(commands) == 0 {
		return Category{}, fmt.Errorf("%w: %q", ErrNoCommands, prefix)
	}
	for i, c := range commands {
		if strings.TrimSpace(c) == "" {
			return Category{}, fmt.Errorf("%w: %q command %d", ErrEmptyCommand, prefix, i)
		}
	}

	owned := make([]string, len(commands))
	copy(owned, commands)
	return Category{prefix: prefix, commands: owned}, nil
}

// MustCategory is NewCategory for static catalogs. It panics on error.
func MustCategory(prefix string, commands ...string) Category {
	c, err := NewCategory(prefix, commands...)
	if err != nil {
		panic(err)
	}
	return c
}

// Prefix returns the output file prefix.
func (c Category) Prefix() string {
	return c.prefix
}

// Commands returns a copy of the commands in declared order.
func (c Category) Commands() []string {
	out := make([]string, len(c.commands))
	copy(out, c.commands)
	return out
}

// Len returns the number of commands.
func (c Category) Len() int {
	return len(c.commands)
}

// Definition returns the serializable form of the category.
func (c Category) Definition() Definition {
	return Definition{Prefix: c.prefix, Commands: c.Commands()}
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

// Catalog is an ordered set of categories with unique prefixes.
//
// The zero value is an empty catalog. Use New or FromDefinitions.
type Catalog struct {
	categories []Category
}

// New builds a catalog from categories, preserving their order.
//
// Returns ErrEmptyCatalog when no categories are given and
// ErrDuplicatePrefix when a prefix repeats.
func New(categories ...Category) (Catalog, error) {
	if len(categories) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(categories))
	owned := make([]Category, 0, len(categories))
	for _, c := range categories {
		if c.prefix == "" || len(c.commands) == 0 {
			return Catalog{}, fmt.Errorf("%w: zero Category", ErrNoCommands)
		}
		if _, dup := seen[c.prefix]; dup {
			return Catalog{}, fmt.Errorf("%w: %q", ErrDuplicatePrefix, c.prefix)
		}
		seen[c.prefix] = struct{}{}
		owned = append(owned, c)
	}
	return Catalog{categories: owned}, nil
}

// Categories returns the categories in declared order.
func (c Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Len returns the number of categories.
func (c Catalog) Len() int {
	return len(c.categories)
}

// Lookup finds a category by prefix.
func (c Catalog) Lookup(prefix string) (Category, bool) {
	for _, cat := range c.categories {
		if cat.prefix == prefix {
			return cat, true
		}
	}
	return Category{}, false
}

// CommandCount returns the total number of commands across categories.
func (c Catalog) CommandCount() int {
	n := 0
	for _, cat := range c.categories {
		n += len(cat.commands)
	}
	return n
}

// Definitions returns the serializable form of the catalog.
func (c Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.Definition()
	}
	return out
}

// -----------------------------------------------------------------------------
// Definitions
// -----------------------------------------------------------------------------

// Definition is the configuration-file form of a category.
type Definition struct {
	Prefix   string   `yaml:"prefix" json:"prefix" validate:"required"`
	Commands []string `yaml:"commands" json:"commands" validate:"required,min=1,dive,required"`
}

// FromDefinitions builds a catalog from configuration entries.
func FromDefinitions(defs []Definition) (Catalog, error) {
	categories := make([]Category, 0, len(defs))
	for _, d := range defs {
		cat, err := NewCategory(d.Prefix, d.Commands...)
		if err != nil {
			return Catalog{}, err
		}
		categories = append(categories, cat)
	}
	return New(categories...)
}
