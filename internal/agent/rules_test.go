package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auriance-health/auriance/internal/models"
)

func TestDefaultRulesValid(t *testing.T) {
	r := DefaultRules()
	if len(r.DemoRoutes) != 4 || len(r.SuggestionRoutes) != 4 {
		t.Fatalf("unexpected route counts: demo=%d suggestions=%d", len(r.DemoRoutes), len(r.SuggestionRoutes))
	}
	if !strings.HasPrefix(r.Messages.Fallback, "Je comprends votre préoccupation.") {
		t.Errorf("unexpected fallback message: %q", r.Messages.Fallback)
	}
	if !strings.HasSuffix(r.Messages.Redirect, "prévention. 🩺") {
		t.Errorf("unexpected redirect message: %q", r.Messages.Redirect)
	}
	if strings.Contains(r.DemoRoutes[0].Reply, "\n") {
		t.Errorf("folded reply must be a single line: %q", r.DemoRoutes[0].Reply)
	}
}

func TestSuggestions(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		message string
		want    []string
		intent  models.Intent
	}{
		{"Je suis stressé", []string{"Exercice respiration", "Méditation guidée", "Conseil sommeil"}, models.IntentStress},
		{"Beaucoup d'anxiété", []string{"Exercice respiration", "Méditation guidée", "Conseil sommeil"}, models.IntentStress},
		{"Grosse FATIGUE", []string{"Routine sommeil", "Conseil literie", "Relaxation"}, models.IntentSleep},
		{"j'ai du mal à m'endormir", []string{"Routine sommeil", "Conseil literie", "Relaxation"}, models.IntentSleep},
		{"Que manger ?", []string{"Recette santé", "Plan repas", "Conseil hydratation"}, models.IntentNutrition},
		{"une marche par jour", []string{"Programme marche", "Étirements", "Motivation"}, models.IntentActivity},
		{"Bonjour", []string{"Sommeil", "Nutrition", "Activité physique", "Santé mentale"}, models.IntentNone},
	}
	for _, tt := range tests {
		got, intent := r.Suggestions(tt.message)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("%q: got %v, want %v", tt.message, got, tt.want)
		}
		if intent != tt.intent {
			t.Errorf("%q: got intent %q, want %q", tt.message, intent, tt.intent)
		}
	}

	// Callers get their own slice.
	got, _ := r.Suggestions("Bonjour")
	got[0] = "changed"
	again, _ := r.Suggestions("Bonjour")
	if again[0] != "Sommeil" {
		t.Errorf("suggestions table was mutated through a returned slice")
	}
}

func TestParseRulesValidation(t *testing.T) {
	base, err := os.ReadFile("rules.yaml")
	if err != nil {
		t.Fatalf("failed to read rules.yaml: %v", err)
	}

	broken := strings.Replace(string(base), "denylist:\n  - diagnostic\n  - médicament\n  - prescrire\n  - guérir\n  - maladie\n", "denylist: []\n", 1)
	if broken == string(base) {
		t.Fatalf("test fixture did not apply")
	}
	if _, err := ParseRules([]byte(broken)); !errors.Is(err, ErrInvalidRules) {
		t.Errorf("expected ErrInvalidRules for empty denylist, got %v", err)
	}

	if _, err := ParseRules([]byte("messages: [")); err == nil {
		t.Errorf("expected parse error for malformed YAML")
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	r, err := LoadRules("")
	if err != nil || r == nil {
		t.Fatalf("LoadRules with empty path failed: %v", err)
	}

	base, _ := os.ReadFile("rules.yaml")
	custom := strings.Replace(string(base), "terms: [stress, anxiété, nerveux]", "terms: [STRESS, Angoisse]", 1)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(custom), 0644); err != nil {
		t.Fatalf("failed to write rules: %v", err)
	}

	r, err = LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if _, intent := r.DemoReply("une angoisse terrible"); intent != models.IntentStress {
		t.Errorf("expected custom term to route to stress, got %q", intent)
	}

	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestRejects(t *testing.T) {
	r := DefaultRules()
	if !r.Rejects("Votre DIAGNOSTIC") {
		t.Error("expected uppercase denylisted term to be rejected")
	}
	if r.Rejects("Dormez bien") {
		t.Error("expected clean reply to pass")
	}
}
