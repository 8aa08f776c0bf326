package task

import (
	"fmt"
	"strings"
	"time"
)

// Palette is the fixed set of project colors.
var Palette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#84cc16", "#22c55e",
	"#14b8a6", "#06b6d4", "#3b82f6", "#8b5cf6", "#d946ef",
}

// Project groups tasks.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	Order      int       `json:"order"`
	IsArchived bool      `json:"isArchived"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ProjectInput is the data a caller supplies to create a project.
type ProjectInput struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// NewProject builds a project from in. An empty color is left for the
// caller to pick with PickColor.
func NewProject(in ProjectInput, now time.Time) (Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name is required", ErrInvalid)
	}
	return Project{
		Name:      name,
		Color:     in.Color,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Fields returns the document representation of p, without the id.
func (p Project) Fields() map[string]any {
	return map[string]any{
		"name":       p.Name,
		"color":      p.Color,
		"order":      p.Order,
		"isArchived": p.IsArchived,
		"createdAt":  p.CreatedAt,
		"updatedAt":  p.UpdatedAt,
	}
}

// PickColor returns a palette color not in used, chosen with intn. When
// every color is taken it picks from the whole palette.
func PickColor(used []string, intn func(n int) int) string {
	taken := make(map[string]bool, len(used))
	for _, c := range used {
		taken[c] = true
	}
	var free []string
	for _, c := range Palette {
		if !taken[c] {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		free = Palette
	}
	return free[intn(len(free))]
}
