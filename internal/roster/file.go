package roster

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scoreledger/internal/domain"
	"scoreledger/internal/resolve"
)

// File is the YAML roster seed:
//
//	students:
//	  - {student_id: "2024001", name: 张三, class: 1班}
//	teachers:
//	  - {name: 李明, subject: 数学, classes: "1班;2班"}
type File struct {
	Students []StudentRow `yaml:"students"`
	Teachers []TeacherRow `yaml:"teachers"`
}

type StudentRow struct {
	StudentID string `yaml:"student_id"`
	Name      string `yaml:"name"`
	Class     string `yaml:"class"`
}

type TeacherRow struct {
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
	Classes string `yaml:"classes"`
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading roster %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing roster: %w", err)
	}
	for i, s := range f.Students {
		if strings.TrimSpace(s.Name) == "" {
			return File{}, fmt.Errorf("students[%d]: name is required", i)
		}
	}
	for i, t := range f.Teachers {
		if strings.TrimSpace(t.Name) == "" {
			return File{}, fmt.Errorf("teachers[%d]: name is required", i)
		}
	}
	return f, nil
}

// DomainStudents converts rows to domain students with canonical class names.
func (f File) DomainStudents() []domain.Student {
	out := make([]domain.Student, 0, len(f.Students))
	for _, s := range f.Students {
		out = append(out, domain.Student{
			StudentID: strings.TrimSpace(s.StudentID),
			Name:      strings.TrimSpace(s.Name),
			Class:     resolve.CanonicalClass(s.Class),
		})
	}
	return out
}

// DomainTeachers converts rows to domain teachers. Teaching classes are
// stored canonical and semicolon-separated.
func (f File) DomainTeachers() []domain.Teacher {
	out := make([]domain.Teacher, 0, len(f.Teachers))
	for _, t := range f.Teachers {
		out = append(out, domain.Teacher{
			Name:    strings.TrimSpace(t.Name),
			Subject: strings.TrimSpace(t.Subject),
			Classes: strings.Join(resolve.SplitClasses(t.Classes), ";"),
		})
	}
	return out
}
