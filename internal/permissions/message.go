package permissions

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CommitSummary renders the user-facing confirmation for an applied batch.
func CommitSummary(applied int) string {
	p := message.NewPrinter(language.BrazilianPortuguese)
	if applied == 1 {
		return p.Sprintf("%d permissão atualizada", applied)
	}
	return p.Sprintf("%d permissões atualizadas", applied)
}
