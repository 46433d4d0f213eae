package dto

import "github.com/noah-isme/journal-insights-api/internal/models"

// RunAnalysisRequest selects the run mode. The mode query parameter takes
// precedence over the body.
type RunAnalysisRequest struct {
	Mode string `json:"mode" form:"mode" validate:"omitempty,oneof=full incremental"`
}

// SnapshotHistoryQuery bounds a history read. Since wins over Days; with
// neither the last thirty days are returned.
type SnapshotHistoryQuery struct {
	models.ScopeFilter
	Since string `form:"since"`
	Days  int    `form:"days" validate:"omitempty,min=1,max=366"`
}

// DeliverResourcesRequest records resources assigned for a flag.
type DeliverResourcesRequest struct {
	Count int `json:"count" validate:"required,min=1"`
}

// ClearFlagsResponse reports how many flags were removed.
type ClearFlagsResponse struct {
	Removed int `json:"removed"`
}
