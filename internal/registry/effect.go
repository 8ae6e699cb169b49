package registry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/renderer"
)

//go:embed effects.yaml
var embeddedCatalog []byte

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// Effect is one catalog entry.
type Effect struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description" yaml:"description"`
	Keywords    []string        `json:"keywords" yaml:"keywords"`
	Code        renderer.Bundle `json:"code" yaml:"code"`
}

// Validate checks the fields the host relies on. Code is author content and
// is not inspected.
func (e Effect) Validate() error {
	if !idPattern.MatchString(e.ID) {
		return fxerrors.NewValidationError(fxerrors.ErrCodeCatalogInvalid,
			fmt.Sprintf("invalid effect id %q", e.ID)).
			WithContext("id", e.ID)
	}
	if e.Title == "" {
		return fxerrors.NewValidationError(fxerrors.ErrCodeCatalogInvalid,
			"effect "+e.ID+" has no title").
			WithContext("id", e.ID)
	}
	return nil
}

// Parse decodes a catalog file: a YAML list of effects. Ids must be valid
// and unique.
func Parse(data []byte) ([]Effect, error) {
	var effects []Effect
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&effects); err != nil && !errors.Is(err, io.EOF) {
		return nil, fxerrors.Wrap(err, fxerrors.ErrorTypeValidation,
			fxerrors.ErrCodeCatalogInvalid, "malformed catalog")
	}

	seen := make(map[string]struct{}, len(effects))
	for i := range effects {
		if err := effects[i].Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[effects[i].ID]; dup {
			return nil, fxerrors.NewValidationError(fxerrors.ErrCodeCatalogInvalid,
				"duplicate effect id "+effects[i].ID).
				WithContext("id", effects[i].ID)
		}
		seen[effects[i].ID] = struct{}{}
		if effects[i].Keywords == nil {
			effects[i].Keywords = []string{}
		}
	}
	return effects, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) ([]Effect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fxerrors.NewIOError(fxerrors.ErrCodeCatalogRead,
			"failed to read catalog", err).
			WithContext("path", path)
	}
	effects, err := Parse(data)
	if err != nil {
		var fe *fxerrors.FxError
		if errors.As(err, &fe) {
			return nil, fe.WithContext("path", path)
		}
		return nil, err
	}
	return effects, nil
}

// Builtin returns the catalog shipped with the binary.
func Builtin() []Effect {
	effects, err := Parse(embeddedCatalog)
	if err != nil {
		panic("registry: embedded catalog is invalid: " + err.Error())
	}
	return effects
}

// Default returns a registry holding the built-in catalog.
func Default() *Registry {
	r := New()
	r.Replace(Builtin())
	return r
}
