package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreledger/internal/domain"
)

const sample = `
students:
  - {student_id: "2024001", name: 张三, class: 一班}
  - {name: " 李四 ", class: "02班"}
teachers:
  - {name: 李明, subject: 数学, classes: "1班，二班、3"}
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []domain.Student{
		{StudentID: "2024001", Name: "张三", Class: "1班"},
		{Name: "李四", Class: "2班"},
	}, f.DomainStudents())
	assert.Equal(t, []domain.Teacher{
		{Name: "李明", Subject: "数学", Classes: "1班;2班;3班"},
	}, f.DomainTeachers())
}

func TestParseRejectsNamelessRows(t *testing.T) {
	_, err := Parse([]byte("students:\n  - {class: 1班}\n"))
	assert.ErrorContains(t, err, "students[0]")

	_, err = Parse([]byte("teachers:\n  - {subject: 数学}\n"))
	assert.ErrorContains(t, err, "teachers[0]")

	_, err = Parse([]byte("students: [unterminated"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
