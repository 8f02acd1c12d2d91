package agent

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/auriance-health/auriance/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ErrInvalidRules is returned when a rule table fails validation.
var ErrInvalidRules = errors.New("invalid rules")

// PromptRules holds the fixed parts of the completion prompt.
type PromptRules struct {
	Intro         string   `yaml:"intro"`
	RulesHeader   string   `yaml:"rules_header"`
	Rules         []string `yaml:"rules"`
	DomainsHeader string   `yaml:"domains_header"`
	Domains       []string `yaml:"domains"`
	Closing       string   `yaml:"closing"`
}

// Messages holds the fixed replies.
type Messages struct {
	Fallback    string `yaml:"fallback"`
	Redirect    string `yaml:"redirect"`
	Timeout     string `yaml:"timeout"`
	DefaultDemo string `yaml:"default_demo"`
}

// DemoRoute maps keywords to a canned reply.
type DemoRoute struct {
	Intent models.Intent `yaml:"intent"`
	Terms  []string      `yaml:"terms"`
	Reply  string        `yaml:"reply"`
}

// SuggestionRoute maps keywords to follow-up suggestions.
type SuggestionRoute struct {
	Intent      models.Intent `yaml:"intent"`
	Terms       []string      `yaml:"terms"`
	Suggestions []string      `yaml:"suggestions"`
}

// Rules is the full table driving reply generation.
type Rules struct {
	SystemInstruction  string            `yaml:"system_instruction"`
	Prompt             PromptRules       `yaml:"prompt"`
	Messages           Messages          `yaml:"messages"`
	Denylist           []string          `yaml:"denylist"`
	DemoRoutes         []DemoRoute       `yaml:"demo_routes"`
	SuggestionRoutes   []SuggestionRoute `yaml:"suggestion_routes"`
	DefaultSuggestions []string          `yaml:"default_suggestions"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		// The embedded table is covered by tests.
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// LoadRules reads a rule table from path. An empty path returns the embedded table.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	slog.Info("agent.LoadRules: loaded rules file", "path", path, "demo_routes", len(r.DemoRoutes), "suggestion_routes", len(r.SuggestionRoutes))
	return r, nil
}

// ParseRules decodes and validates a YAML rule table. Terms are lowercased.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) normalize() {
	lower := func(terms []string) []string {
		out := make([]string, 0, len(terms))
		for _, t := range terms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	r.Denylist = lower(r.Denylist)
	for i := range r.DemoRoutes {
		r.DemoRoutes[i].Terms = lower(r.DemoRoutes[i].Terms)
	}
	for i := range r.SuggestionRoutes {
		r.SuggestionRoutes[i].Terms = lower(r.SuggestionRoutes[i].Terms)
	}
}

// Validate checks that every message is set and every route has terms and output.
func (r *Rules) Validate() error {
	required := map[string]string{
		"system_instruction":    r.SystemInstruction,
		"prompt.intro":          r.Prompt.Intro,
		"messages.fallback":     r.Messages.Fallback,
		"messages.redirect":     r.Messages.Redirect,
		"messages.timeout":      r.Messages.Timeout,
		"messages.default_demo": r.Messages.DefaultDemo,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidRules, field)
		}
	}
	if len(r.Denylist) == 0 {
		return fmt.Errorf("%w: denylist is empty", ErrInvalidRules)
	}
	for i, route := range r.DemoRoutes {
		if len(route.Terms) == 0 || strings.TrimSpace(route.Reply) == "" {
			return fmt.Errorf("%w: demo route %d (%s) needs terms and a reply", ErrInvalidRules, i, route.Intent)
		}
	}
	for i, route := range r.SuggestionRoutes {
		if len(route.Terms) == 0 || len(route.Suggestions) == 0 {
			return fmt.Errorf("%w: suggestion route %d (%s) needs terms and suggestions", ErrInvalidRules, i, route.Intent)
		}
	}
	if len(r.DefaultSuggestions) == 0 {
		return fmt.Errorf("%w: default_suggestions is empty", ErrInvalidRules)
	}
	return nil
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// DemoReply returns the canned reply for message and the intent it matched.
func (r *Rules) DemoReply(message string) (string, models.Intent) {
	lower := strings.ToLower(message)
	for _, route := range r.DemoRoutes {
		if containsAny(lower, route.Terms) {
			return route.Reply, route.Intent
		}
	}
	return r.Messages.DefaultDemo, models.IntentNone
}

// Suggestions returns a fresh copy of the suggestions for message and the intent it matched.
func (r *Rules) Suggestions(message string) ([]string, models.Intent) {
	lower := strings.ToLower(message)
	for _, route := range r.SuggestionRoutes {
		if containsAny(lower, route.Terms) {
			return append([]string(nil), route.Suggestions...), route.Intent
		}
	}
	return append([]string(nil), r.DefaultSuggestions...), models.IntentNone
}

// Rejects reports whether reply contains a denylisted term.
func (r *Rules) Rejects(reply string) bool {
	return containsAny(strings.ToLower(reply), r.Denylist)
}
