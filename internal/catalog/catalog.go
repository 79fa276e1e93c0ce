// Package catalog справочник категорий заявок. Используется классификатором
// (допустимый набор меток) и просмотром заявок по категориям.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Category struct {
	ID          int64    `yaml:"id" json:"id"`
	Slug        string   `yaml:"slug" json:"slug"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	ParentID    *int64   `yaml:"parentId" json:"parentId,omitempty"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Catalog неизменяемый после создания, безопасен для конкурентного чтения
type Catalog struct {
	byID  map[int64]Category
	order []int64
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// New строит каталог и проверяет уникальность id и slug
func New(categories []Category) (*Catalog, error) {
	c := &Catalog{byID: make(map[int64]Category, len(categories))}
	slugs := make(map[string]bool, len(categories))
	for _, cat := range categories {
		if cat.ID <= 0 {
			return nil, fmt.Errorf("category %q: id must be positive", cat.Name)
		}
		if strings.TrimSpace(cat.Name) == "" {
			return nil, fmt.Errorf("category %d: name is required", cat.ID)
		}
		if _, dup := c.byID[cat.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %d", cat.ID)
		}
		if cat.Slug != "" {
			if slugs[cat.Slug] {
				return nil, fmt.Errorf("duplicate category slug %q", cat.Slug)
			}
			slugs[cat.Slug] = true
		}
		c.byID[cat.ID] = cat
		c.order = append(c.order, cat.ID)
	}
	for _, cat := range categories {
		if cat.ParentID != nil {
			if _, ok := c.byID[*cat.ParentID]; !ok {
				return nil, fmt.Errorf("category %d: unknown parent %d", cat.ID, *cat.ParentID)
			}
		}
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c, nil
}

// Load читает каталог из YAML; пустой путь означает встроенный справочник
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("categories file %s is empty", path)
	}
	return New(f.Categories)
}

func (c *Catalog) Get(id int64) (Category, bool) {
	cat, ok := c.byID[id]
	return cat, ok
}

func (c *Catalog) Contains(id int64) bool {
	_, ok := c.byID[id]
	return ok
}

// List категории по возрастанию id
func (c *Catalog) List() []Category {
	out := make([]Category, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}
