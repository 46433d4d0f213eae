package service

import (
	"strings"

	json "github.com/goccy/go-json"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

type textDelta struct {
	Ops []models.TextRun `json:"ops"`
}

// ParseTextBody decodes a stored (already decrypted) entry body. Text that is
// not valid JSON is plain text, even when it opens with a bracket or quote.
// Valid JSON that is not a string, a run array or a delta document is
// reported as malformed.
func ParseTextBody(raw string) (models.TextBody, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.TextBody{}, nil
	}

	switch trimmed[0] {
	case '[', '{', '"':
	default:
		return models.TextBody{Plain: raw}, nil
	}
	data := []byte(trimmed)
	if !json.Valid(data) {
		return models.TextBody{Plain: raw}, nil
	}

	switch trimmed[0] {
	case '[':
		var runs []models.TextRun
		if err := json.Unmarshal(data, &runs); err != nil {
			return models.TextBody{}, appErrors.WrapAs(err, appErrors.ErrMalformedEntry, "")
		}
		return models.TextBody{Runs: runs}, nil
	case '{':
		var delta textDelta
		if err := json.Unmarshal(data, &delta); err != nil {
			return models.TextBody{}, appErrors.WrapAs(err, appErrors.ErrMalformedEntry, "")
		}
		if delta.Ops == nil {
			return models.TextBody{}, appErrors.Clone(appErrors.ErrMalformedEntry, "rich-text document has no ops")
		}
		return models.TextBody{Runs: delta.Ops}, nil
	default:
		var plain string
		if err := json.Unmarshal(data, &plain); err != nil {
			return models.TextBody{}, appErrors.WrapAs(err, appErrors.ErrMalformedEntry, "")
		}
		return models.TextBody{Plain: plain}, nil
	}
}

// ExtractText flattens a body into plain text. Run fragments are joined in
// order without separators; embeds contribute nothing.
func ExtractText(body models.TextBody) string {
	if len(body.Runs) == 0 {
		return body.Plain
	}
	var b strings.Builder
	for _, run := range body.Runs {
		b.WriteString(run.Text())
	}
	return b.String()
}

// CountWords returns the number of whitespace separated tokens in body.
func CountWords(body models.TextBody) int {
	return len(strings.Fields(ExtractText(body)))
}

// CountRawWords parses and counts in one step. Malformed bodies count as
// zero words and the error is returned for logging.
func CountRawWords(raw string) (int, error) {
	body, err := ParseTextBody(raw)
	if err != nil {
		return 0, err
	}
	return CountWords(body), nil
}
