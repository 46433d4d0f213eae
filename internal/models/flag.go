package models

import "time"

// IssueType is a risk category detected in journal text.
type IssueType string

const (
	IssueDepression         IssueType = "depression"
	IssueBullying           IssueType = "bullying"
	IssueIntroversion       IssueType = "introversion"
	IssueLanguageDifficulty IssueType = "language_difficulty"
)

// IssueTypes lists every supported category in display order.
var IssueTypes = []IssueType{IssueDepression, IssueBullying, IssueIntroversion, IssueLanguageDifficulty}

// Valid reports whether t is a supported category.
func (t IssueType) Valid() bool {
	for _, known := range IssueTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RiskSignal is one category match for one entry. It is consumed by the
// flag aggregator within the same run.
type RiskSignal struct {
	EntryID             string
	StudentID           string
	Category            IssueType
	MatchedKeywordCount int
	MatchedKeywords     []string
	Score               float64
	Excerpt             string
	EntryDate           time.Time
}

// FlagExcerpt is a piece of entry text kept on a flag for reviewers.
type FlagExcerpt struct {
	EntryID   string    `json:"entry_id"`
	Text      string    `json:"text"`
	Keywords  []string  `json:"keywords"`
	EntryDate time.Time `json:"entry_date"`
}

// StudentFlag is the durable risk record for one (student, issue type).
type StudentFlag struct {
	StudentID               string        `json:"student_id"`
	StudentName             string        `json:"student_name"`
	DistrictID              string        `json:"district_id"`
	SchoolID                string        `json:"school_id"`
	ClassID                 string        `json:"class_id"`
	IssueType               IssueType     `json:"issue_type"`
	FlagCount               int           `json:"flag_count"`
	DateFirstFlagged        time.Time     `json:"date_first_flagged"`
	DateLastFlagged         time.Time     `json:"date_last_flagged"`
	LastUpdated             time.Time     `json:"last_updated"`
	Excerpts                []FlagExcerpt `json:"excerpts"`
	ResourcesDelivered      bool          `json:"resources_delivered"`
	ResourcesDeliveredAt    *time.Time    `json:"resources_delivered_at,omitempty"`
	DeliveredResourcesCount int           `json:"delivered_resources_count"`

	// ProcessedEntryIDs are the entries already counted into FlagCount.
	ProcessedEntryIDs []string `json:"-"`
}

// FlagKey identifies a flag.
type FlagKey struct {
	StudentID string
	IssueType IssueType
}

// Key returns the flag's identity.
func (f *StudentFlag) Key() FlagKey {
	return FlagKey{StudentID: f.StudentID, IssueType: f.IssueType}
}

// FlagFilter scopes flag listings.
type FlagFilter struct {
	ScopeFilter
	IssueType          IssueType `form:"issueType"`
	ResourcesDelivered *bool     `form:"resourcesDelivered"`
}
