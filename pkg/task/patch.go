package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Patch is a partial task update. Nil fields are left alone. The Clear
// flags null out optional fields; an empty ParentID detaches a subtask.
type Patch struct {
	Title           *string
	Description     *string
	DueDate         *time.Time
	ClearDueDate    bool
	Priority        *Priority
	Tags            *[]string
	ProjectID       *string
	ParentID        *string
	IsRecurring     *bool
	Recurrence      *Recurrence
	ClearRecurrence bool
}

// Validate checks the provided fields.
func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w priority %q", ErrInvalid, *p.Priority)
	}
	if p.Recurrence != nil {
		return p.Recurrence.Validate()
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.Fields()) == 0
}

// Fields returns only the provided fields in document form.
func (p Patch) Fields() map[string]any {
	f := map[string]any{}
	if p.Title != nil {
		f["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		f["description"] = *p.Description
	}
	switch {
	case p.ClearDueDate:
		f["dueDate"] = nil
	case p.DueDate != nil:
		f["dueDate"] = *p.DueDate
	}
	if p.Priority != nil {
		f["priority"] = string(*p.Priority)
	}
	if p.Tags != nil {
		tags := *p.Tags
		if tags == nil {
			tags = []string{}
		}
		f["tags"] = tags
	}
	if p.ProjectID != nil {
		id := *p.ProjectID
		if id == "" {
			id = Inbox
		}
		f["projectId"] = id
	}
	if p.ParentID != nil {
		f["parentId"] = stringOrNil(*p.ParentID)
	}
	if p.IsRecurring != nil {
		f["isRecurring"] = *p.IsRecurring
	}
	switch {
	case p.ClearRecurrence:
		f["recurrence"] = nil
	case p.Recurrence != nil:
		f["recurrence"] = *p.Recurrence
	}
	return f
}

var null = []byte("null")

// UnmarshalJSON decodes a JSON object, treating an explicit null for
// dueDate, parentId or recurrence as a request to clear the field.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Patch
	for key, val := range raw {
		isNull := bytes.Equal(bytes.TrimSpace(val), null)
		var err error
		switch key {
		case "title":
			err = decodeInto(val, &out.Title)
		case "description":
			err = decodeInto(val, &out.Description)
		case "dueDate":
			if isNull {
				out.ClearDueDate = true
			} else {
				err = decodeInto(val, &out.DueDate)
			}
		case "priority":
			err = decodeInto(val, &out.Priority)
		case "tags":
			err = decodeInto(val, &out.Tags)
		case "projectId":
			err = decodeInto(val, &out.ProjectID)
		case "parentId":
			if isNull {
				empty := ""
				out.ParentID = &empty
			} else {
				err = decodeInto(val, &out.ParentID)
			}
		case "isRecurring":
			err = decodeInto(val, &out.IsRecurring)
		case "recurrence":
			if isNull {
				out.ClearRecurrence = true
			} else {
				err = decodeInto(val, &out.Recurrence)
			}
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
	}
	*p = out
	return nil
}

func decodeInto[T any](val json.RawMessage, dst **T) error {
	if bytes.Equal(bytes.TrimSpace(val), null) {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(val, v); err != nil {
		return err
	}
	*dst = v
	return nil
}

// ProjectPatch is a partial project update.
type ProjectPatch struct {
	Name       *string `json:"name"`
	Color      *string `json:"color"`
	IsArchived *bool   `json:"isArchived"`
}

// Validate checks the provided fields.
func (p ProjectPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: project name cannot be empty", ErrInvalid)
	}
	return nil
}

// Fields returns only the provided fields in document form.
func (p ProjectPatch) Fields() map[string]any {
	f := map[string]any{}
	if p.Name != nil {
		f["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Color != nil {
		f["color"] = *p.Color
	}
	if p.IsArchived != nil {
		f["isArchived"] = *p.IsArchived
	}
	return f
}
