package service

import (
	"sort"
	"time"

	"github.com/noah-isme/journal-insights-api/internal/models"
)

const defaultExcerptLimit = 5

// FlagGroup is every signal of one run for one (student, issue type).
type FlagGroup struct {
	Key     models.FlagKey
	Student models.HierarchyContext
	Signals []models.RiskSignal
}

// FlagChange is a flag the aggregator created or advanced.
type FlagChange struct {
	Flag       models.StudentFlag
	Created    bool
	NewEntries int
}

// FlagAggregator applies run signals to durable flags.
type FlagAggregator struct {
	excerptLimit int
}

// NewFlagAggregator constructs an aggregator keeping at most excerptLimit
// excerpts per flag.
func NewFlagAggregator(excerptLimit int) *FlagAggregator {
	if excerptLimit <= 0 {
		excerptLimit = defaultExcerptLimit
	}
	return &FlagAggregator{excerptLimit: excerptLimit}
}

// GroupSignals buckets signals by flag key. Groups come back ordered by
// student then issue type.
func GroupSignals(signals []models.RiskSignal, students map[string]models.HierarchyContext) []FlagGroup {
	index := make(map[models.FlagKey]int)
	var groups []FlagGroup
	for _, signal := range signals {
		key := models.FlagKey{StudentID: signal.StudentID, IssueType: signal.Category}
		i, ok := index[key]
		if !ok {
			student := students[signal.StudentID]
			if student.StudentID == "" {
				student.StudentID = signal.StudentID
			}
			groups = append(groups, FlagGroup{Key: key, Student: student})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].Signals = append(groups[i].Signals, signal)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Key.StudentID != groups[j].Key.StudentID {
			return groups[i].Key.StudentID < groups[j].Key.StudentID
		}
		return issueRank(groups[i].Key.IssueType) < issueRank(groups[j].Key.IssueType)
	})
	return groups
}

func issueRank(issue models.IssueType) int {
	for i, known := range models.IssueTypes {
		if known == issue {
			return i
		}
	}
	return len(models.IssueTypes)
}

// Apply folds group into existing (nil when no flag exists yet). It returns
// false when no entry in the group is new to the flag, in which case nothing
// must be written. Resource delivery fields are carried over unchanged.
func (a *FlagAggregator) Apply(existing *models.StudentFlag, group FlagGroup, now time.Time) (FlagChange, bool) {
	now = now.UTC()

	processed := make(map[string]struct{})
	if existing != nil {
		for _, id := range existing.ProcessedEntryIDs {
			processed[id] = struct{}{}
		}
	}

	fresh := make([]models.RiskSignal, 0, len(group.Signals))
	for _, signal := range group.Signals {
		if _, seen := processed[signal.EntryID]; seen {
			continue
		}
		processed[signal.EntryID] = struct{}{}
		fresh = append(fresh, signal)
	}
	if len(fresh) == 0 {
		return FlagChange{}, false
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		if !fresh[i].EntryDate.Equal(fresh[j].EntryDate) {
			return fresh[i].EntryDate.After(fresh[j].EntryDate)
		}
		return fresh[i].EntryID > fresh[j].EntryID
	})

	var flag models.StudentFlag
	created := existing == nil
	if created {
		flag = models.StudentFlag{
			StudentID:        group.Key.StudentID,
			IssueType:        group.Key.IssueType,
			DateFirstFlagged: now,
		}
	} else {
		flag = *existing
		flag.Excerpts = append([]models.FlagExcerpt(nil), existing.Excerpts...)
		flag.ProcessedEntryIDs = append([]string(nil), existing.ProcessedEntryIDs...)
	}

	refreshIdentity(&flag, group.Student)

	excerpts := make([]models.FlagExcerpt, 0, len(fresh)+len(flag.Excerpts))
	for _, signal := range fresh {
		excerpts = append(excerpts, models.FlagExcerpt{
			EntryID:   signal.EntryID,
			Text:      signal.Excerpt,
			Keywords:  signal.MatchedKeywords,
			EntryDate: signal.EntryDate,
		})
		flag.ProcessedEntryIDs = append(flag.ProcessedEntryIDs, signal.EntryID)
	}
	excerpts = append(excerpts, flag.Excerpts...)
	if len(excerpts) > a.excerptLimit {
		excerpts = excerpts[:a.excerptLimit]
	}
	flag.Excerpts = excerpts

	flag.FlagCount += len(fresh)
	if now.After(flag.DateLastFlagged) {
		flag.DateLastFlagged = now
	}
	if flag.DateLastFlagged.Before(flag.DateFirstFlagged) {
		flag.DateLastFlagged = flag.DateFirstFlagged
	}
	flag.LastUpdated = now

	return FlagChange{Flag: flag, Created: created, NewEntries: len(fresh)}, true
}

func refreshIdentity(flag *models.StudentFlag, student models.HierarchyContext) {
	if student.StudentName != "" {
		flag.StudentName = student.StudentName
	}
	if student.DistrictID != "" {
		flag.DistrictID = student.DistrictID
	}
	if student.SchoolID != "" {
		flag.SchoolID = student.SchoolID
	}
	if student.ClassID != "" {
		flag.ClassID = student.ClassID
	}
}
