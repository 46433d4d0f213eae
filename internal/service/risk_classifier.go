package service

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/textmatch"
)

const excerptRadius = 60

//go:embed risk_keywords.yaml
var defaultKeywordConfig []byte

// KeywordCategory is the keyword list and weighting for one issue type.
type KeywordCategory struct {
	Weight     float64  `mapstructure:"weight" validate:"gt=0"`
	MinMatches int      `mapstructure:"min_matches" validate:"gte=0"`
	Keywords   []string `mapstructure:"keywords" validate:"min=1,dive,required"`
}

// KeywordConfig is the versioned classifier vocabulary.
type KeywordConfig struct {
	Version    string                     `mapstructure:"version" validate:"required"`
	Categories map[string]KeywordCategory `mapstructure:"categories" validate:"required,min=1,dive,keys,oneof=depression bullying introversion language_difficulty,endkeys"`
}

// LoadKeywordConfig reads the vocabulary from path, or the embedded default
// when path is empty.
func LoadKeywordConfig(path string) (*KeywordConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		if err := v.ReadConfig(bytes.NewReader(defaultKeywordConfig)); err != nil {
			return nil, fmt.Errorf("read embedded keyword config: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read keyword config %s: %w", path, err)
		}
	}

	var cfg KeywordConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode keyword config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid keyword config")
	}
	return &cfg, nil
}

// RiskClassifier scans entry text for keyword risk signals.
type RiskClassifier struct {
	version    string
	categories map[models.IssueType]KeywordCategory
	matcher    *textmatch.Matcher
}

// NewRiskClassifier compiles cfg into a matcher.
func NewRiskClassifier(cfg *KeywordConfig) (*RiskClassifier, error) {
	if cfg == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "keyword config required")
	}

	c := &RiskClassifier{
		version:    cfg.Version,
		categories: make(map[models.IssueType]KeywordCategory, len(cfg.Categories)),
		matcher:    textmatch.New(),
	}
	for name, category := range cfg.Categories {
		issue := models.IssueType(name)
		if !issue.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown issue type %q", name))
		}
		c.categories[issue] = category
		for _, keyword := range category.Keywords {
			c.matcher.Add(strings.ToLower(strings.TrimSpace(keyword)), issue)
		}
	}
	c.matcher.Build()
	return c, nil
}

// Version returns the vocabulary version in use.
func (c *RiskClassifier) Version() string {
	return c.version
}

type categoryHits struct {
	keywords []string
	seen     map[string]struct{}
	start    int
	length   int
}

// Classify returns at most one signal per issue type for the entry text.
func (c *RiskClassifier) Classify(entry models.JournalEntry, text string) []models.RiskSignal {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	hits := make(map[models.IssueType]*categoryHits)
	for _, m := range c.matcher.Search(text) {
		issue, ok := m.Data.(models.IssueType)
		if !ok {
			continue
		}
		h, ok := hits[issue]
		if !ok {
			h = &categoryHits{seen: make(map[string]struct{}), start: m.Start, length: len([]rune(m.Pattern))}
			hits[issue] = h
		}
		if m.Start < h.start {
			h.start = m.Start
			h.length = len([]rune(m.Pattern))
		}
		if _, dup := h.seen[m.Pattern]; dup {
			continue
		}
		h.seen[m.Pattern] = struct{}{}
		h.keywords = append(h.keywords, m.Pattern)
	}

	var signals []models.RiskSignal
	for _, issue := range models.IssueTypes {
		h, ok := hits[issue]
		if !ok {
			continue
		}
		category := c.categories[issue]
		minMatches := category.MinMatches
		if minMatches < 1 {
			minMatches = 1
		}
		if len(h.keywords) < minMatches {
			continue
		}
		signals = append(signals, models.RiskSignal{
			EntryID:             entry.ID,
			StudentID:           entry.StudentID,
			Category:            issue,
			MatchedKeywordCount: len(h.keywords),
			MatchedKeywords:     h.keywords,
			Score:               category.Weight * float64(len(h.keywords)),
			Excerpt:             excerptAround(text, h.start, h.length, excerptRadius),
			EntryDate:           entry.CreatedAt,
		})
	}
	return signals
}

// excerptAround cuts a rune window of radius around [start, start+length).
func excerptAround(text string, start, length, radius int) string {
	runes := []rune(text)
	from := start - radius
	if from < 0 {
		from = 0
	}
	to := start + length + radius
	if to > len(runes) {
		to = len(runes)
	}
	if from >= to {
		return ""
	}

	excerpt := strings.TrimSpace(string(runes[from:to]))
	if from > 0 {
		excerpt = "..." + excerpt
	}
	if to < len(runes) {
		excerpt += "..."
	}
	return excerpt
}
