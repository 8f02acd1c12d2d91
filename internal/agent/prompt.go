package agent

import (
	"sort"
	"strings"

	"github.com/auriance-health/auriance/internal/models"
)

// roleLabels are the speaker names used in the prompt history.
var roleLabels = map[models.Role]string{
	models.RoleUser:      "Utilisateur",
	models.RoleAssistant: "Auriance",
}

// BuildPrompt renders the completion prompt: the safety preamble, the user
// profile, the recent history and the latest message.
func BuildPrompt(r *Rules, message string, cc models.ConversationContext) string {
	var b strings.Builder

	b.WriteString(r.Prompt.Intro)
	b.WriteString("\n\n")

	b.WriteString("CONTEXTE UTILISATEUR: ")
	b.WriteString(formatProfile(cc.Profile))
	b.WriteString("\n")

	b.WriteString("HISTORIQUE CONVERSATION:")
	if len(cc.History) == 0 {
		b.WriteString(" aucun\n")
	} else {
		b.WriteString("\n")
		for _, t := range cc.History {
			label, ok := roleLabels[t.Role]
			if !ok {
				label = string(t.Role)
			}
			b.WriteString("- ")
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
	}

	b.WriteString("DERNIER MESSAGE: ")
	b.WriteString(message)
	b.WriteString("\n\n")

	writeList(&b, r.Prompt.RulesHeader, r.Prompt.Rules)
	writeList(&b, r.Prompt.DomainsHeader, r.Prompt.Domains)

	b.WriteString(r.Prompt.Closing)
	return b.String()
}

func writeList(b *strings.Builder, header string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(header)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func formatProfile(p models.Profile) string {
	if p.IsEmpty() {
		return "aucun profil renseigné"
	}
	var parts []string
	if p.Name != "" {
		parts = append(parts, "prénom: "+p.Name)
	}
	if p.AgeRange != "" {
		parts = append(parts, "tranche d'âge: "+p.AgeRange)
	}
	if len(p.Goals) > 0 {
		parts = append(parts, "objectifs: "+strings.Join(p.Goals, ", "))
	}
	if p.PreferredTone != "" {
		parts = append(parts, "ton préféré: "+p.PreferredTone)
	}
	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+p.Extra[k])
	}
	return strings.Join(parts, "; ")
}
