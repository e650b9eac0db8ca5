// Package config reads the process-wide image size parameters from an INI
// parameters file:
//
//	[DEFAULT]
//	height = 256
//	width = 256
//
// The file follows the usual INI conventions: `;` and `#` comments, `=` or
// `:` separators, case-insensitive keys, and any number of other sections,
// which are ignored. The values describe the size the rest of a training
// program expects; the record decoder never consults them, since every
// record carries its own dimensions.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// DefaultPath is where Load looks when given an empty path.
const DefaultPath = "parameters.ini"

// Parameters holds the [DEFAULT] section.
type Parameters struct {
	Height int
	Width  int
}

// Load reads and validates the parameters file at path.
func Load(path string) (*Parameters, error) {
	if path == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading parameters file %s", path)
	}
	return Parse(raw)
}

// Parse decodes the contents of a parameters file.
func Parse(raw []byte) (*Parameters, error) {
	f, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, raw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse parameters file")
	}
	section := f.Section(ini.DefaultSection)

	var p Parameters
	if p.Height, err = intKey(section, "height"); err != nil {
		return nil, err
	}
	if p.Width, err = intKey(section, "width"); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func intKey(section *ini.Section, name string) (int, error) {
	if !section.HasKey(name) {
		return 0, errors.Errorf("parameters: [%s] has no %s", section.Name(), name)
	}
	v, err := section.Key(name).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "parameters: %s", name)
	}
	return v, nil
}

// Validate checks that both dimensions are set and positive.
func (p Parameters) Validate() error {
	if p.Height <= 0 {
		return errors.Errorf("parameters: height must be positive, got %d", p.Height)
	}
	if p.Width <= 0 {
		return errors.Errorf("parameters: width must be positive, got %d", p.Width)
	}
	return nil
}

func (p Parameters) String() string {
	return fmt.Sprintf("%dx%d", p.Height, p.Width)
}
