package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// CV is the canonical structured résumé document. Section shapes are fixed across versions.
type CV struct {
	Header     Header       `json:"header"`
	Summary    Summary      `json:"summary"`
	Skills     Skills       `json:"skills"`
	Experience []Experience `json:"experience"`
	Projects   []Project    `json:"projects"`
	Education  []Education  `json:"education"`
	Languages  []Language   `json:"languages"`
	Extras     []Extra      `json:"extras"`
}

// Header captures identity and contact details.
type Header struct {
	FullName     string  `json:"full_name"`
	CurrentTitle string  `json:"current_title"`
	Contact      Contact `json:"contact"`
}

type Contact struct {
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Location string   `json:"location,omitempty"`
	Links    []string `json:"links,omitempty"`
}

// Summary is the profile paragraph plus its highlighted domains and strengths.
type Summary struct {
	Headline        string   `json:"headline"`
	Description     string   `json:"description"`
	YearsExperience float64  `json:"years_experience"`
	Domains         []string `json:"domains"`
	KeyStrengths    []string `json:"key_strengths"`
}

// Skills groups skills by category. Hard skills and tools carry a proficiency.
type Skills struct {
	HardSkills    []Skill  `json:"hard_skills"`
	SoftSkills    []string `json:"soft_skills"`
	Tools         []Skill  `json:"tools"`
	Methodologies []string `json:"methodologies"`
}

type Skill struct {
	Name        string `json:"name"`
	Proficiency string `json:"proficiency"`
}

// Experience is a work history entry.
type Experience struct {
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Location         string   `json:"location"`
	Type             string   `json:"type"`
	StartDate        string   `json:"start_date"`
	EndDate          string   `json:"end_date"`
	Description      string   `json:"description"`
	Responsibilities []string `json:"responsibilities"`
	Deliverables     []string `json:"deliverables"`
	SkillsUsed       []string `json:"skills_used"`
	Domain           string   `json:"domain,omitempty"`
}

type Project struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	TechStack   []string `json:"tech_stack"`
}

type Education struct {
	Institution  string `json:"institution"`
	Degree       string `json:"degree"`
	FieldOfStudy string `json:"field_of_study"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

type Language struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

type Extra struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Validate enforces required fields and date formats.
func (c CV) Validate() error {
	if strings.TrimSpace(c.Header.FullName) == "" {
		return errors.New("header.full_name is required")
	}
	for i, exp := range c.Experience {
		if err := validateDateField(exp.StartDate, fmt.Sprintf("experience[%d].start_date", i)); err != nil {
			return err
		}
		if err := validateDateField(exp.EndDate, fmt.Sprintf("experience[%d].end_date", i)); err != nil {
			return err
		}
	}
	for i, p := range c.Projects {
		if err := validateDateField(p.StartDate, fmt.Sprintf("projects[%d].start_date", i)); err != nil {
			return err
		}
		if err := validateDateField(p.EndDate, fmt.Sprintf("projects[%d].end_date", i)); err != nil {
			return err
		}
	}
	for i, edu := range c.Education {
		if err := validateDateField(edu.StartDate, fmt.Sprintf("education[%d].start_date", i)); err != nil {
			return err
		}
		if err := validateDateField(edu.EndDate, fmt.Sprintf("education[%d].end_date", i)); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c CV) Clone() CV {
	data, err := json.Marshal(c)
	if err != nil {
		return c
	}
	var out CV
	if err := json.Unmarshal(data, &out); err != nil {
		return c
	}
	return out
}

// Equal reports whether two documents serialize identically.
func Equal(a, b CV) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

var cvDatePattern = regexp.MustCompile(`^\d{4}(-(0[1-9]|1[0-2]))?$`)

func validateDateField(value, field string) error {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, "present") {
		return nil
	}
	if !cvDatePattern.MatchString(v) {
		return fmt.Errorf("%s must be YYYY, YYYY-MM or present", field)
	}
	return nil
}
