package composer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

func TestHash(t *testing.T) {
	tests := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
		{"hello", 99162322},
		{"polygenelubricants", -2147483648},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hash(tt.in), tt.in)
	}
}

func TestPickHandlesMinInt32(t *testing.T) {
	assert.Equal(t, 0, Pick("polygenelubricants", 4))
	assert.Equal(t, 2, Pick("polygenelubricants", 3))
	assert.Equal(t, 0, Pick("anything", 0))
}

func TestJoinList(t *testing.T) {
	assert.Equal(t, "", JoinList(nil))
	assert.Equal(t, "x", JoinList([]string{"x"}))
	assert.Equal(t, "x and y", JoinList([]string{"x", "y"}))
	assert.Equal(t, "x, y, and z", JoinList([]string{"x", "y", "z"}))
	assert.Equal(t, "w, x, y, and z", JoinList([]string{"w", "x", "y", "z"}))
}

func TestComposeEmpty(t *testing.T) {
	for _, module := range []string{"task", "TASK", "hr", ""} {
		assert.Equal(t, Wrap(module, "Made an update."), Compose(module, nil))
		assert.Equal(t, Wrap(module, "Made an update."), Compose(module, []domain.FieldChange{}))
	}
	assert.Equal(t, `<p data-module="task">Made an update.</p>`, Compose("TASK", nil))
}

func TestComposeDeterministic(t *testing.T) {
	changes := []domain.FieldChange{{Field: "title", OldValue: "A", NewValue: "B"}}
	first := Compose("task", changes)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Compose("task", changes))
	}
}

func TestComposeGolden(t *testing.T) {
	got := Compose("task", []domain.FieldChange{{Field: "title", OldValue: "A", NewValue: "B"}})
	assert.Equal(t, `<p data-module="task">Quick update: renamed to 'B'.</p>`, got)

	got = Compose("task", []domain.FieldChange{
		{Field: "title", OldValue: "Old", NewValue: "Fix bug"},
		{Field: "description", OldValue: "x", NewValue: "y"},
	})
	assert.Equal(t, `<p data-module="task">Made a few changes: renamed to 'Fix bug' and updated the description.</p>`, got)
}

func TestFormatChange(t *testing.T) {
	high := "Owner"
	due := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		change domain.FieldChange
		want   string
	}{
		{"description", domain.FieldChange{Field: "description", OldValue: "a", NewValue: "b"}, "updated the description"},
		{"title", domain.FieldChange{Field: "title", OldValue: "a", NewValue: "b"}, "renamed to 'b'"},
		{"due date time", domain.FieldChange{Field: "dueDate", NewValue: due}, "set due date to Mar 5, 2026"},
		{"due date string", domain.FieldChange{Field: "dueDate", OldValue: "2026-01-01", NewValue: "2026-03-05T10:00:00Z"}, "set due date to Mar 5, 2026"},
		{"reassign", domain.FieldChange{Field: "assignee", OldValue: "u1", NewValue: "u2"}, "reassigned to u2"},
		{"assignee set", domain.FieldChange{Field: "assignee", NewValue: "u2"}, "added assignee 'u2'"},
		{"assignee removed", domain.FieldChange{Field: "assignee", OldValue: "u1"}, "removed assignee 'u1'"},
		{"priority", domain.FieldChange{Field: "priorityLevel", OldValue: float64(2), NewValue: 4}, "changed priority from Low to High"},
		{"priority set", domain.FieldChange{Field: "priorityLevel", NewValue: 4}, "added priority 'High'"},
		{"difficulty", domain.FieldChange{Field: "difficulty", OldValue: 1, NewValue: "5"}, "changed difficulty from Very Easy to Very Hard"},
		{"difficulty unknown level", domain.FieldChange{Field: "difficulty", OldValue: 1, NewValue: 9}, "changed difficulty from Very Easy to 9"},
		{"unknown field", domain.FieldChange{Field: "budget", OldValue: 1, NewValue: 2.5}, "changed budget to '2.5'"},
		{"unknown field display name", domain.FieldChange{Field: "owner_id", DisplayName: &high, OldValue: "a", NewValue: "b"}, "changed Owner to 'b'"},
		{"escapes html", domain.FieldChange{Field: "title", OldValue: "a", NewValue: "<b>"}, "renamed to '&lt;b&gt;'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatChange(tt.change))
		})
	}
}

func TestComposeEscapesFieldLabel(t *testing.T) {
	img := "<img src=x onerror=alert(1)>"

	got := Compose("task", []domain.FieldChange{{Field: "custom", DisplayName: &img, OldValue: "a", NewValue: "<b>"}})
	assert.NotContains(t, got, "<img")
	assert.Contains(t, got, "&lt;img src=x onerror=alert(1)&gt; to '&lt;b&gt;'")

	for _, c := range []domain.FieldChange{
		{Field: "x", DisplayName: &img},
		{Field: "x", DisplayName: &img, NewValue: "v"},
		{Field: "x", DisplayName: &img, OldValue: "v"},
		{Field: `<script>`, OldValue: "a", NewValue: "b"},
	} {
		out := FormatChange(c)
		assert.NotContains(t, out, "<")
		assert.NotContains(t, out, ">")
	}
}

func TestFormatChangeSetAndRemovePatternsAreStable(t *testing.T) {
	c := domain.FieldChange{Field: "estimate", NewValue: "3h"}
	want := FormatChange(c)
	for i := 0; i < 5; i++ {
		assert.Equal(t, want, FormatChange(c))
	}
	idx := Pick("estimate:3h", len(setPatterns))
	assert.Contains(t, []string{"set estimate to '3h'", "added estimate '3h'", "filled in estimate as '3h'"}, want)
	assert.Equal(t, []string{"set estimate to '3h'", "added estimate '3h'", "filled in estimate as '3h'"}[idx], want)

	r := FormatChange(domain.FieldChange{Field: "estimate", OldValue: "3h"})
	assert.Contains(t, []string{"removed estimate '3h'", "cleared estimate (was '3h')", "took off estimate '3h'"}, r)
}

func TestFormatAction(t *testing.T) {
	tests := []struct {
		action  string
		details map[string]any
		want    string
	}{
		{"assigned", map[string]any{"assignee": "Dana"}, "Assigned this to Dana."},
		{"assigned", nil, "Assigned this."},
		{"claimed", nil, "Claimed this."},
		{"accepted", nil, "Accepted this."},
		{"rejected", map[string]any{"reason": "duplicate"}, "Rejected this (duplicate)."},
		{"status_changed", map[string]any{"from": "TODO", "to": "DONE"}, "Changed the status from TODO to DONE."},
		{"moved", map[string]any{"to": "Review"}, "Moved this to Review."},
		{"approved", nil, "Approved this."},
		{"rejected_approval", nil, "Rejected this approval."},
		{"submitted_for_review", nil, "Submitted this for review."},
		{"completed", nil, "Marked this as completed."},
		{"archived", map[string]any{"b": 2, "a": "x"}, "archived (a: x, b: 2)"},
		{"archived", nil, "archived"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAction(tt.action, tt.details), tt.action)
	}
}
