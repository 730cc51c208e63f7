package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalClass(t *testing.T) {
	tests := map[string]string{
		"1班":     "1班",
		"一班":     "1班",
		"01班":    "1班",
		"1":      "1班",
		" 1 班 ":  "1班",
		"１班":     "1班",
		"十二班":    "12班",
		"二十三班":   "23班",
		"二十":     "20班",
		"高三(2)班": "高三2班",
		"高三（2）班": "高三2班",
		"高一":     "高一",
		"实验班":    "实验班",
		"":       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalClass(in), in)
	}
}

func TestSplitClasses(t *testing.T) {
	assert.Equal(t, []string{"1班", "2班", "3班"}, SplitClasses("1班;二班，3"))
	assert.Equal(t, []string{"1班", "2班"}, SplitClasses("1、2、1班"))
	assert.Empty(t, SplitClasses(" ; "))
}

func TestTeacherKey(t *testing.T) {
	assert.Equal(t, "李", teacherKey("李老师"))
	assert.Equal(t, "李明", teacherKey("李明"))
	assert.Equal(t, "老师", teacherKey("老师"))
	assert.Equal(t, "john smith", normalize("  John   Smith "))
	assert.Equal(t, "johnsmith", nameKey("  John   Smith "))
}
