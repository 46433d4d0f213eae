package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// UserRole is the role claim issued by the identity provider.
type UserRole string

const (
	RoleDistrictAdmin UserRole = "district_admin"
	RoleSchoolAdmin   UserRole = "school_admin"
	RoleTeacher       UserRole = "teacher"
	RoleStudent       UserRole = "student"
)

// JournalEntry is a single student journal entry. Body holds the stored
// payload: plain text, a JSON rich-text document, or hex ciphertext of either.
type JournalEntry struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Body      string    `db:"body" json:"-"`
	Emotion   string    `db:"emotion" json:"emotion"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TextRun is one rich-text insert operation. Insert is a string for text
// runs and an object for embeds; attributes are formatting only.
type TextRun struct {
	Insert     json.RawMessage        `json:"insert"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Text returns the run's text fragment, or "" for non-text runs.
func (r TextRun) Text() string {
	if len(r.Insert) == 0 || r.Insert[0] != '"' {
		return ""
	}
	var text string
	if err := json.Unmarshal(r.Insert, &text); err != nil {
		return ""
	}
	return text
}

// TextBody is a decoded entry body: either plain text or ordered runs.
type TextBody struct {
	Plain string
	Runs  []TextRun
}

// StudentRecord is a student as listed by the identity provider, with the
// hierarchy claims flattened. Missing claims are empty strings.
type StudentRecord struct {
	ID           string   `db:"id" json:"id"`
	Name         string   `db:"name" json:"name"`
	Role         UserRole `db:"role" json:"role"`
	DistrictID   string   `db:"district_id" json:"district_id"`
	DistrictName string   `db:"district_name" json:"district_name"`
	SchoolID     string   `db:"school_id" json:"school_id"`
	SchoolName   string   `db:"school_name" json:"school_name"`
	ClassID      string   `db:"class_id" json:"class_id"`
	ClassName    string   `db:"class_name" json:"class_name"`
}

// Hierarchy projects the record's claims into a HierarchyContext. The
// result still needs validation.
func (s StudentRecord) Hierarchy() HierarchyContext {
	return HierarchyContext{
		StudentID:    s.ID,
		StudentName:  s.Name,
		ClassID:      s.ClassID,
		ClassName:    s.ClassName,
		SchoolID:     s.SchoolID,
		SchoolName:   s.SchoolName,
		DistrictID:   s.DistrictID,
		DistrictName: s.DistrictName,
	}
}

// HierarchyContext is the full district → school → class → student path of
// an entry at aggregation time.
type HierarchyContext struct {
	StudentID    string `json:"student_id" validate:"required"`
	StudentName  string `json:"student_name"`
	ClassID      string `json:"class_id" validate:"required"`
	ClassName    string `json:"class_name"`
	SchoolID     string `json:"school_id" validate:"required"`
	SchoolName   string `json:"school_name"`
	DistrictID   string `json:"district_id" validate:"required"`
	DistrictName string `json:"district_name"`
}

// StudentFilter scopes student listings.
type StudentFilter struct {
	DistrictID string
	SchoolID   string
	ClassID    string
}
