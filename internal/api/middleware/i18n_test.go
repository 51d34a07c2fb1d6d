package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"liveness-gate-go/config"
	"liveness-gate-go/internal/core/liveness"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()

	tr, err := NewTranslator(config.I18nConfig{
		DefaultLanguage: "en",
		LocalesDir:      "../../../web/locales",
	})
	require.NoError(t, err)
	return tr
}

func TestTranslatorLoadsCatalogs(t *testing.T) {
	tr := newTestTranslator(t)

	require.True(t, tr.HasLanguage("en"))
	require.True(t, tr.HasLanguage("de"))
	require.False(t, tr.HasLanguage("fr"))
}

func TestTranslateFallback(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		name string
		lang string
		key  string
		want string
	}{
		{"german catalog", "de", "liveness.prompt_blink", "bitte blinzeln"},
		{"english catalog", "en", "liveness.prompt_blink", "please blink"},
		{"unknown language falls back to default", "fr", "liveness.prompt_blink", "please blink"},
		{"unknown key falls back to the key", "de", "liveness.does_not_exist", "liveness.does_not_exist"},
		{"nested app key", "de", "app.language_name", "Deutsch"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tr.Translate(tc.lang, tc.key))
		})
	}
}

func TestLivenessMessagesLocalized(t *testing.T) {
	tr := newTestTranslator(t)

	de := tr.LivenessMessages("de")
	require.Equal(t, "bitte blinzeln", de.PromptBlink)
	require.Equal(t, "bitte lächeln", de.PromptSmile)
	require.Equal(t, "Übereinstimmung: %.2f%%", de.MatchRateFmt)
	require.Equal(t, "alle Challenges bestanden", de.AllPassed)

	// a language without a catalog keeps the English defaults
	require.Equal(t, liveness.DefaultMessages(), tr.LivenessMessages("fr"))
}

func TestNilTranslatorIsSafe(t *testing.T) {
	var tr *Translator

	require.False(t, tr.HasLanguage("en"))
	require.Equal(t, "liveness.prompt_blink", tr.Translate("en", "liveness.prompt_blink"))
	require.Equal(t, liveness.DefaultMessages(), tr.LivenessMessages("de"))
}

func TestI18nMiddlewareLanguageResolution(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr := newTestTranslator(t)

	router := gin.New()
	router.Use(sessions.Sessions("liveness_gate_session", cookie.NewStore([]byte("test-secret"))))
	router.Use(I18n(tr, "en"))
	router.GET("/probe", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("language"))
	})

	// an explicit ?lang=de wins and is stored in the session cookie
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe?lang=de", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, "de", w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	// the stored language survives a request without the query parameter
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/probe", nil)
	for _, c := range cookies {
		req2.AddCookie(c)
	}
	router.ServeHTTP(w2, req2)
	require.Equal(t, "de", w2.Body.String())

	// an unknown language falls back to the default
	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/probe?lang=xx", nil)
	router.ServeHTTP(w3, req3)
	require.Equal(t, "en", w3.Body.String())
}
