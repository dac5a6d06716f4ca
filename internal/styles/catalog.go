// Package styles exposes the rendering styles a user can pick. The catalog is
// read from storage once and shared until the last holder closes it.
package styles

import (
	"context"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"caricature/internal/domain"
	"caricature/internal/readiness"
)

// Dir is the storage directory holding style reference images.
const Dir = "styles"

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Style is one selectable rendering style.
type Style struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// Lister lists storage keys under a directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]string, error)
}

// Catalog serves the style list through a readiness gate.
type Catalog struct {
	gate *readiness.Gate[[]Style]
}

// NewCatalog builds a catalog over files. Style URLs are baseURL + "/" + key.
func NewCatalog(files Lister, baseURL string) *Catalog {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	load := func(ctx context.Context) ([]Style, error) {
		keys, err := files.List(ctx, Dir)
		if err != nil {
			return nil, fmt.Errorf("styles: list: %w", err)
		}
		return buildStyles(keys, baseURL), nil
	}
	return &Catalog{gate: readiness.NewGate(load, nil)}
}

// Open takes a long-lived reference so the catalog stays loaded between
// requests. Pair it with Close.
func (c *Catalog) Open(ctx context.Context) error {
	_, err := c.gate.Acquire(ctx)
	return err
}

// Close drops the reference taken by Open.
func (c *Catalog) Close() error {
	return c.gate.Release()
}

// List returns a copy of all styles.
func (c *Catalog) List(ctx context.Context) ([]Style, error) {
	all, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.gate.Release()
	return append([]Style(nil), all...), nil
}

// Resolve finds a style by name, case-insensitively.
func (c *Catalog) Resolve(ctx context.Context, name string) (Style, error) {
	all, err := c.gate.Acquire(ctx)
	if err != nil {
		return Style{}, err
	}
	defer c.gate.Release()
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range all {
		if s.Name == name {
			return s, nil
		}
	}
	return Style{}, domain.ErrNotFound
}

func buildStyles(keys []string, baseURL string) []Style {
	title := cases.Title(language.English)
	out := make([]Style, 0, len(keys))
	for _, key := range keys {
		base := path.Base(key)
		ext := strings.ToLower(path.Ext(base))
		if !imageExtensions[ext] {
			continue
		}
		name := strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
		display := strings.NewReplacer("-", " ", "_", " ").Replace(name)
		out = append(out, Style{
			Name:        name,
			DisplayName: title.String(display),
			URL:         baseURL + "/" + key,
		})
	}
	return out
}
