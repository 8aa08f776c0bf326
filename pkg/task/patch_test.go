package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchUnmarshalNulls(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"dueDate":null,"parentId":null,"recurrence":null}`), &p))

	f := p.Fields()
	assert.Len(t, f, 3)
	assert.Nil(t, f["dueDate"])
	assert.Nil(t, f["parentId"])
	assert.Nil(t, f["recurrence"])
	assert.Contains(t, f, "dueDate")
}

func TestPatchUnmarshalValues(t *testing.T) {
	var p Patch
	body := `{"title":" New ","priority":"high","tags":["x"],"dueDate":"2024-03-14T18:00:00Z","projectId":"","unknown":1}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	f := p.Fields()
	assert.Equal(t, "New", f["title"])
	assert.Equal(t, "high", f["priority"])
	assert.Equal(t, []string{"x"}, f["tags"])
	assert.Equal(t, time.Date(2024, 3, 14, 18, 0, 0, 0, time.UTC), f["dueDate"])
	assert.Equal(t, Inbox, f["projectId"])
	assert.NotContains(t, f, "description")
}

func TestPatchEmptyAndValidate(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &p))
	assert.True(t, p.Empty())
	assert.NoError(t, p.Validate())

	blank := " "
	assert.ErrorIs(t, Patch{Title: &blank}.Validate(), ErrInvalid)

	bad := Priority("nope")
	assert.ErrorIs(t, Patch{Priority: &bad}.Validate(), ErrInvalid)
}

func TestPatchRejectsBadJSON(t *testing.T) {
	var p Patch
	assert.Error(t, json.Unmarshal([]byte(`{"title":5}`), &p))
}

func TestProjectPatchFields(t *testing.T) {
	name := " Home "
	archived := true
	f := ProjectPatch{Name: &name, IsArchived: &archived}.Fields()
	assert.Equal(t, map[string]any{"name": "Home", "isArchived": true}, f)
}
