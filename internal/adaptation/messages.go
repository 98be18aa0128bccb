package adaptation

import (
	"fmt"
	"strings"

	"cv-adapter/internal/pipeline"
)

// successMessage is the completed-task summary shown to the user. Partial runs report the
// failure ratio instead.
func successMessage(lang string, stats pipeline.Stats, changes int) string {
	if !stats.Success() {
		return fmt.Sprintf("%d/%d failed", stats.Failed, stats.Total)
	}
	switch languageCode(lang) {
	case "ru":
		return fmt.Sprintf("Резюме адаптировано: изменений на проверку: %d", changes)
	case "de":
		return fmt.Sprintf("Lebenslauf angepasst: %d Änderungen zur Prüfung", changes)
	case "es":
		return fmt.Sprintf("CV adaptado: %d cambios para revisar", changes)
	}
	if changes == 1 {
		return "Résumé adapted: 1 change ready for review"
	}
	return fmt.Sprintf("Résumé adapted: %d changes ready for review", changes)
}

func languageCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	switch {
	case l == "ru", strings.HasPrefix(l, "rus"), strings.HasPrefix(l, "рус"):
		return "ru"
	case l == "de", strings.HasPrefix(l, "german"), strings.HasPrefix(l, "deutsch"):
		return "de"
	case l == "es", strings.HasPrefix(l, "spanish"), strings.HasPrefix(l, "español"), strings.HasPrefix(l, "espanol"):
		return "es"
	}
	return "en"
}
