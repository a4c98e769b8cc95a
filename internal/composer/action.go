package composer

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

type actionFormatter func(details map[string]any) string

var actionFormatters = map[string]actionFormatter{
	"assigned": func(d map[string]any) string {
		if who := detail(d, "assignee", "assigneeName", "assignee_name"); who != "" {
			return "assigned this to " + who
		}
		return "assigned this"
	},
	"claimed":  func(map[string]any) string { return "claimed this" },
	"accepted": func(map[string]any) string { return "accepted this" },
	"rejected": func(d map[string]any) string {
		return withReason("rejected this", d)
	},
	"status_changed": func(d map[string]any) string {
		return "changed the status" + fromTo(d)
	},
	"moved": func(d map[string]any) string {
		return "moved this" + fromTo(d)
	},
	"approved": func(map[string]any) string { return "approved this" },
	"rejected_approval": func(d map[string]any) string {
		return withReason("rejected this approval", d)
	},
	"submitted_for_review": func(map[string]any) string { return "submitted this for review" },
	"completed":            func(map[string]any) string { return "marked this as completed" },
}

// FormatAction 按动作表格式化；未知动作输出 "{action} (k: v, …)"，键按字典序
func FormatAction(action string, details map[string]any) string {
	if f, ok := actionFormatters[action]; ok {
		return upperFirst(f(details)) + "."
	}
	if len(details) == 0 {
		return html.EscapeString(action)
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s: %s", k, toText(details[k])))
	}
	return html.EscapeString(fmt.Sprintf("%s (%s)", action, strings.Join(pairs, ", ")))
}

func detail(d map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := d[k]; ok && v != nil {
			if s := toText(v); s != "" {
				return html.EscapeString(s)
			}
		}
	}
	return ""
}

func withReason(base string, d map[string]any) string {
	if reason := detail(d, "reason"); reason != "" {
		return fmt.Sprintf("%s (%s)", base, reason)
	}
	return base
}

func fromTo(d map[string]any) string {
	from := detail(d, "from")
	to := detail(d, "to")
	switch {
	case from != "" && to != "":
		return fmt.Sprintf(" from %s to %s", from, to)
	case to != "":
		return " to " + to
	case from != "":
		return " from " + from
	}
	return ""
}
