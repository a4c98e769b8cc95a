// Package composer 将结构化的字段变更渲染为确定性的自然语言句子
// 纯函数，无 I/O；同样的输入永远得到同样的输出（重试不会闪烁，可做 golden 测试）
package composer

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

const emptyChange = "Made an update."

var (
	setPatterns = []string{
		"set %s to '%s'",
		"added %s '%s'",
		"filled in %s as '%s'",
	}
	removePatterns = []string{
		"removed %s '%s'",
		"cleared %s (was '%s')",
		"took off %s '%s'",
	}
	singleTemplates = []string{
		"%s.",
		"Just %s.",
		"Went ahead and %s.",
		"Quick update: %s.",
	}
	multiTemplates = []string{
		"%s.",
		"Made a few changes: %s.",
		"Went ahead and %s.",
		"Updated a few things: %s.",
	}

	priorityLabels = map[int]string{
		1: "Very Low",
		2: "Low",
		3: "Medium",
		4: "High",
		5: "Urgent",
	}
	difficultyLabels = map[int]string{
		1: "Very Easy",
		2: "Easy",
		3: "Medium",
		4: "Hard",
		5: "Very Hard",
	}
)

// Compose 生成一条活动消息（已包裹模块标记）
//
//	0 条变更 → "Made an update."
//	1 条变更 → 4 个句式之一
//	≥2 条   → 牛津逗号连接后套入 4 个句式之一
func Compose(module string, changes []domain.FieldChange) string {
	if len(changes) == 0 {
		return Wrap(module, emptyChange)
	}

	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, FormatChange(c))
	}
	joined := JoinList(parts)

	templates := multiTemplates
	if len(parts) == 1 {
		templates = singleTemplates
	}
	tpl := templates[Pick(joined, len(templates))]
	return Wrap(module, upperFirst(fmt.Sprintf(tpl, joined)))
}

// Wrap 用模块标记包裹句子
func Wrap(module, sentence string) string {
	return fmt.Sprintf(`<p data-module="%s">%s</p>`, html.EscapeString(strings.ToLower(module)), sentence)
}

// FormatChange 按字段规则格式化单条变更
func FormatChange(c domain.FieldChange) string {
	label := fieldLabel(c)

	switch {
	case c.Field == "description":
		return "updated the description"
	case c.NewValue == nil && c.OldValue == nil:
		return "updated " + label
	case c.NewValue == nil:
		old := valueText(c.Field, c.OldValue)
		return fmt.Sprintf(removePatterns[Pick(label+":"+old, len(removePatterns))], label, html.EscapeString(old))
	case c.Field == "title":
		return fmt.Sprintf("renamed to '%s'", html.EscapeString(valueText(c.Field, c.NewValue)))
	case c.Field == "dueDate":
		return "set due date to " + html.EscapeString(formatDate(c.NewValue))
	case c.OldValue == nil:
		nv := valueText(c.Field, c.NewValue)
		return fmt.Sprintf(setPatterns[Pick(label+":"+nv, len(setPatterns))], label, html.EscapeString(nv))
	case c.Field == "assignee":
		return "reassigned to " + html.EscapeString(valueText(c.Field, c.NewValue))
	case strings.HasPrefix(c.Field, "priority"), strings.HasPrefix(c.Field, "difficulty"):
		return fmt.Sprintf("changed %s from %s to %s", label,
			html.EscapeString(valueText(c.Field, c.OldValue)),
			html.EscapeString(valueText(c.Field, c.NewValue)))
	default:
		return fmt.Sprintf("changed %s to '%s'", label, html.EscapeString(valueText(c.Field, c.NewValue)))
	}
}

// JoinList 牛津逗号："a"、"a and b"、"a, b, and c"
func JoinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// Hash 滚动字符串哈希 h = h*31 + charCode，按 UTF-16 码元计算，int32 溢出回绕
func Hash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	return h
}

// Pick 返回 abs(Hash(s)) % n
func Pick(s string, n int) int {
	if n <= 0 {
		return 0
	}
	h := int64(Hash(s))
	if h < 0 {
		h = -h
	}
	return int(h % int64(n))
}

// fieldLabel 返回已转义的字段名
func fieldLabel(c domain.FieldChange) string {
	switch {
	case c.Field == "assignee":
		return "assignee"
	case c.Field == "dueDate":
		return "due date"
	case strings.HasPrefix(c.Field, "priority"):
		return "priority"
	case strings.HasPrefix(c.Field, "difficulty"):
		return "difficulty"
	case c.DisplayName != nil && *c.DisplayName != "":
		return html.EscapeString(*c.DisplayName)
	default:
		return html.EscapeString(c.Field)
	}
}

func valueText(field string, v any) string {
	switch {
	case strings.HasPrefix(field, "priority"):
		return levelLabel(priorityLabels, v)
	case strings.HasPrefix(field, "difficulty"):
		return levelLabel(difficultyLabels, v)
	case field == "dueDate":
		return formatDate(v)
	}
	return toText(v)
}

func levelLabel(table map[int]string, v any) string {
	if n, ok := toInt(v); ok {
		if l, ok := table[n]; ok {
			return l
		}
	}
	return toText(v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("Jan 2, 2006")
	default:
		return fmt.Sprint(x)
	}
}

func formatDate(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.Format("Jan 2, 2006")
	case *time.Time:
		if x != nil {
			return x.Format("Jan 2, 2006")
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.Format("Jan 2, 2006")
			}
		}
	}
	return toText(v)
}

func upperFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
