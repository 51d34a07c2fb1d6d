package middleware

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/liveness"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Translator hält die Übersetzungsfunktionalität
type Translator struct {
	bundle          *i18n.Bundle
	localizer       map[string]*i18n.Localizer
	translations    map[string]map[string]interface{}
	defaultLanguage string
}

// NewTranslator erstellt einen neuen Übersetzer und lädt alle
// Übersetzungsdateien aus dem Locales-Verzeichnis
func NewTranslator(cfg config.I18nConfig) (*Translator, error) {
	// Standardsprache festlegen, falls nicht angegeben
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}

	// Lokalisierungsverzeichnis festlegen, falls nicht angegeben
	if cfg.LocalesDir == "" {
		cfg.LocalesDir = "./web/locales"
	}

	// Bundle für die Übersetzung erstellen
	bundle := i18n.NewBundle(language.MustParse(cfg.DefaultLanguage))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:          bundle,
		localizer:       make(map[string]*i18n.Localizer),
		translations:    make(map[string]map[string]interface{}),
		defaultLanguage: cfg.DefaultLanguage,
	}

	// Alle Übersetzungsdateien laden
	localeFiles, err := os.ReadDir(cfg.LocalesDir)
	if err != nil {
		return nil, err
	}

	for _, file := range localeFiles {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".json") {
			// Sprachcode aus dem Dateinamen extrahieren (z.B. "de.json" -> "de")
			langCode := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

			filePath := filepath.Join(cfg.LocalesDir, file.Name())
			if _, err := bundle.LoadMessageFile(filePath); err != nil {
				return nil, err
			}

			// Localizer für diese Sprache erstellen
			t.localizer[langCode] = i18n.NewLocalizer(bundle, langCode)

			// Vollständige Übersetzungsdatei auch als Map laden für direkten Zugriff
			var translations map[string]interface{}
			jsonData, err := os.ReadFile(filePath)
			if err != nil {
				return nil, err
			}

			if err := json.Unmarshal(jsonData, &translations); err != nil {
				return nil, err
			}

			t.translations[langCode] = flattenMap(translations, "")
		}
	}

	return t, nil
}

// HasLanguage prüft, ob für die Sprache Übersetzungen geladen wurden
func (t *Translator) HasLanguage(lang string) bool {
	if t == nil {
		return false
	}
	_, ok := t.translations[lang]
	return ok
}

// Translate übersetzt einen Schlüssel in die angegebene Sprache.
// Fällt auf die Standardsprache und zuletzt auf den Schlüssel zurück.
func (t *Translator) Translate(lang, key string) string {
	if t == nil {
		return key
	}
	if m := t.translations[lang]; m != nil {
		if val, ok := m[key].(string); ok {
			return val
		}
	}

	if m := t.translations[t.defaultLanguage]; m != nil {
		if val, ok := m[key].(string); ok {
			return val
		}
	}

	return key
}

// LivenessMessages baut die Progress-Meldungen einer Session in der
// angegebenen Sprache. Fehlende Schlüssel behalten die englischen
// Standardtexte.
func (t *Translator) LivenessMessages(lang string) liveness.Messages {
	msgs := liveness.DefaultMessages()

	set := func(target *string, key string) {
		if val := t.Translate(lang, key); val != key {
			*target = val
		}
	}

	set(&msgs.Started, "liveness.started")
	set(&msgs.NoFace, "liveness.no_face")
	set(&msgs.PromptBlink, "liveness.prompt_blink")
	set(&msgs.PromptSmile, "liveness.prompt_smile")
	set(&msgs.BlinkDetected, "liveness.blink_detected")
	set(&msgs.SmileDetected, "liveness.smile_detected")
	set(&msgs.MatchRateFmt, "liveness.match_rate")
	set(&msgs.ChallengePassed, "liveness.challenge_passed")
	set(&msgs.BelowThresholdFmt, "liveness.below_threshold")
	set(&msgs.AllPassed, "liveness.all_passed")
	set(&msgs.ChallengeTimedOut, "liveness.timed_out")
	set(&msgs.BackendError, "liveness.backend_error")
	set(&msgs.Cancelled, "liveness.cancelled")
	set(&msgs.ProfileReenrolled, "liveness.profile_reenrolled")

	return msgs
}

// I18n erstellt eine Middleware, die die Sprache der Anfrage bestimmt
// und eine Übersetzungsfunktion in den Kontext legt
func I18n(translator *Translator, defaultLanguage string) gin.HandlerFunc {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}

	return func(c *gin.Context) {
		// Sprache aus der Session oder dem Query-Parameter abrufen
		session := sessions.Default(c)
		lang := c.Query("lang")

		// Wenn ein Sprachparameter in der Anfrage vorliegt, diesen in der Session speichern
		if lang != "" && translator.HasLanguage(lang) {
			session.Set("language", lang)
			session.Save()
		} else {
			// Sprache aus der Session abrufen, falls vorhanden
			if sessionLang, ok := session.Get("language").(string); ok {
				lang = sessionLang
			}
		}

		// Fallback auf die Standardsprache, wenn keine gültige Sprache gefunden wurde
		if lang == "" || !translator.HasLanguage(lang) {
			lang = defaultLanguage
		}

		// Übersetzungsfunktion dem Kontext hinzufügen
		c.Set("language", lang)
		c.Set("translator", translator)

		c.Set("t", func(key string, args ...interface{}) string {
			return translator.Translate(lang, key)
		})

		c.Next()
	}
}

// Flache Map erstellen für einfacheren Zugriff (z.B. "app.title" statt app["title"])
func flattenMap(input map[string]interface{}, prefix string) map[string]interface{} {
	result := make(map[string]interface{})

	for k, v := range input {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch child := v.(type) {
		case map[string]interface{}:
			// Rekursiv verschachtelte Maps abflachen
			flattened := flattenMap(child, key)
			for childKey, childValue := range flattened {
				result[childKey] = childValue
			}
		default:
			// Wert direkt zuordnen
			result[key] = v
		}
	}

	return result
}
