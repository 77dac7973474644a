// Package catalog holds the reference table of productivity tasks.
// The embedded tasks.toml is the single authoritative copy; reports and
// the synchronizer both read it from here.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

//go:embed tasks.toml
var defaultTable string

// ErrInvalidReference is returned for a malformed reference table.
var ErrInvalidReference = errors.New("invalid task reference table")

// Item is one row of the reference table.
type Item struct {
	Code        string          `toml:"code"`
	Description string          `toml:"description"`
	Points      decimal.Decimal `toml:"points"`
}

type table struct {
	Tasks []Item `toml:"task"`
}

// Default returns the embedded reference table, in file order.
func Default() ([]Item, error) {
	return Parse(defaultTable)
}

// Load reads a reference table from a TOML file.
func Load(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes and validates a TOML reference table.
func Parse(data string) ([]Item, error) {
	var t table
	if _, err := toml.Decode(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	if err := Validate(t.Tasks); err != nil {
		return nil, err
	}
	return t.Tasks, nil
}

// Validate trims every item in place and rejects a table with a missing
// code, a repeated code or a negative point value.
func Validate(items []Item) error {
	seen := make(map[string]bool, len(items))
	for i := range items {
		item := &items[i]
		item.Code = strings.TrimSpace(item.Code)
		item.Description = strings.TrimSpace(item.Description)

		if item.Code == "" {
			return fmt.Errorf("%w: row %d has no code", ErrInvalidReference, i+1)
		}
		if seen[item.Code] {
			return fmt.Errorf("%w: code %s appears twice", ErrInvalidReference, item.Code)
		}
		if item.Points.IsNegative() {
			return fmt.Errorf("%w: code %s has negative points", ErrInvalidReference, item.Code)
		}
		seen[item.Code] = true
	}
	return nil
}
