package directory

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML layout of a static directory file:
//
//	schools:
//	  - id: sch_1
//	    term: {year: 2025, term: 3}
//	    classes:
//	      - {id: cls_4, name: Grade 4}
//	    students:
//	      - {id: stu_1, name: Amina Njeri, class_id: cls_4}
type Seed struct {
	Schools []SchoolSeed `yaml:"schools"`
}

// SchoolSeed lists one school's classes and students. Students are active
// unless marked inactive.
type SchoolSeed struct {
	ID   string `yaml:"id"`
	Term *struct {
		Year int `yaml:"year"`
		Term int `yaml:"term"`
	} `yaml:"term"`
	Classes []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Level string `yaml:"level"`
	} `yaml:"classes"`
	Students []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		ClassID  string `yaml:"class_id"`
		Inactive bool   `yaml:"inactive"`
	} `yaml:"students"`
}

// LoadSeed reads a Seed document into a new Static directory.
func LoadSeed(r io.Reader) (*Static, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("directory: decode seed: %w", err)
	}

	s := NewStatic()
	for _, sch := range seed.Schools {
		if sch.ID == "" {
			return nil, fmt.Errorf("directory: seed school without id")
		}
		for _, c := range sch.Classes {
			s.AddClasses(Class{ID: c.ID, SchoolID: sch.ID, Name: c.Name, Level: c.Level})
		}
		for _, st := range sch.Students {
			if st.ID == "" || st.Name == "" {
				return nil, fmt.Errorf("directory: seed student in %s needs id and name", sch.ID)
			}
			s.AddStudents(Student{ID: st.ID, SchoolID: sch.ID, Name: st.Name, ClassID: st.ClassID, Active: !st.Inactive})
		}
		if sch.Term != nil {
			s.SetTerm(sch.ID, Term{Year: sch.Term.Year, Term: sch.Term.Term})
		}
	}
	return s, nil
}

// LoadSeedFile reads a seed file from path.
func LoadSeedFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("directory: open seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}
