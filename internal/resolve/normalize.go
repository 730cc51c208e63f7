package resolve

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// nameKey is the comparison key for person names and ids: NFKC, lowercase,
// no whitespace at all ("张 三" and "张三" compare equal).
func nameKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(normalize(s)), ""))
}

var teacherHonorifics = []string{"老师", "老師", "教师", "先生", "主任"}

// teacherKey additionally drops a trailing honorific so "李老师" compares as "李".
func teacherKey(s string) string {
	key := nameKey(s)
	for _, h := range teacherHonorifics {
		if trimmed := strings.TrimSuffix(key, h); trimmed != key && trimmed != "" {
			return trimmed
		}
	}
	return key
}

var classPattern = regexp.MustCompile(`^(.*?)(\d+|[零一二三四五六七八九十]+)班?$`)

// CanonicalClass maps the many ways staff write a class to one form:
// "一班", "01班", "1" and "1 班" all become "1班"; "高三(2)班" becomes "高三2班".
// Values that carry no class number are returned normalized but otherwise
// unchanged.
func CanonicalClass(s string) string {
	s = nameKey(s)
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("(", "", ")", "", "[", "", "]", "").Replace(s)

	m := classPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	prefix, num := m[1], m[2]
	if prefix != "" && !strings.HasSuffix(s, "班") {
		// "高一" is a grade, not a class
		return s
	}
	n, ok := classNumber(num)
	if !ok {
		return s
	}
	return prefix + strconv.Itoa(n) + "班"
}

// SplitClasses parses a teacher's teaching-class list. Separators may be
// ASCII or full-width commas, semicolons, the enumeration comma or spaces.
func SplitClasses(s string) []string {
	fields := strings.FieldsFunc(norm.NFKC.String(s), func(r rune) bool {
		switch r {
		case ',', ';', '、', ' ', '\t', '\n':
			return true
		}
		return false
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		c := CanonicalClass(f)
		if c == "" || c == "班" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func classNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	return chineseNumber(s)
}

var chineseDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// chineseNumber handles 0-99 written with 十, which covers class numbers.
func chineseNumber(s string) (int, bool) {
	runes := []rune(s)
	switch len(runes) {
	case 1:
		if runes[0] == '十' {
			return 10, true
		}
		d, ok := chineseDigits[runes[0]]
		return d, ok
	case 2:
		if runes[0] == '十' {
			d, ok := chineseDigits[runes[1]]
			return 10 + d, ok
		}
		if runes[1] == '十' {
			d, ok := chineseDigits[runes[0]]
			return d * 10, ok
		}
	case 3:
		if runes[1] != '十' {
			return 0, false
		}
		tens, ok1 := chineseDigits[runes[0]]
		ones, ok2 := chineseDigits[runes[2]]
		return tens*10 + ones, ok1 && ok2
	}
	return 0, false
}
