package directory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/meetvoice/internal/meeting"
)

// File is the on-disk layout of a directory YAML file.
//
// Example:
//
//	contacts:
//	  - name: "Phil Anderson"
//	    email: "phil.anderson@abcvc.com"
//	    company: "ABC VC Fund"
type File struct {
	Contacts []meeting.KnownContact `yaml:"contacts"`
}

// Load reads and validates a directory file from disk.
func Load(path string) ([]meeting.KnownContact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("directory: open %q: %w", path, err)
	}
	defer f.Close()

	contacts, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("directory: parse %q: %w", path, err)
	}
	return contacts, nil
}

// LoadFromReader parses and validates directory YAML from r.
func LoadFromReader(r io.Reader) ([]meeting.KnownContact, error) {
	var df File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&df); err != nil {
		return nil, fmt.Errorf("directory: decode yaml: %w", err)
	}
	if err := Validate(df.Contacts); err != nil {
		return nil, err
	}
	return df.Contacts, nil
}

// Validate checks that every entry has a name and a plausible email, and
// that names are unique. All problems are reported together.
func Validate(contacts []meeting.KnownContact) error {
	var errs []error
	seen := make(map[string]int, len(contacts))
	for i, c := range contacts {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("contacts[%d]: name is required", i))
		} else if j, dup := seen[strings.ToLower(name)]; dup {
			errs = append(errs, fmt.Errorf("contacts[%d]: name %q duplicates contacts[%d]", i, name, j))
		} else {
			seen[strings.ToLower(name)] = i
		}
		if !strings.Contains(c.Email, "@") {
			errs = append(errs, fmt.Errorf("contacts[%d]: email %q is invalid", i, c.Email))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("directory: %w", errors.Join(errs...))
	}
	return nil
}
