package middleware

import (
	"embed"
	"encoding/json"
	"path"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	languageKey   = "language"
	translatorKey = "translator"
)

// Translator hält die geladenen Übersetzungen
type Translator struct {
	bundle     *i18n.Bundle
	localizers map[string]*i18n.Localizer
	matcher    language.Matcher
	fallback   string
}

// NewTranslator lädt die eingebetteten Übersetzungen. defaultLanguage wird
// verwendet, wenn keine unterstützte Sprache angefragt wird.
func NewTranslator(defaultLanguage string) (*Translator, error) {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}

	bundle := i18n.NewBundle(language.MustParse(defaultLanguage))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	t := &Translator{
		bundle:     bundle,
		localizers: make(map[string]*i18n.Localizer),
	}
	var tags []language.Tag
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, path.Join("locales", file.Name())); err != nil {
			return nil, err
		}
		code := strings.TrimSuffix(file.Name(), path.Ext(file.Name()))
		t.localizers[code] = i18n.NewLocalizer(bundle, code, defaultLanguage)
		tags = append(tags, language.MustParse(code))
	}

	if _, ok := t.localizers[defaultLanguage]; !ok {
		log.Warnf("Default language %s has no translations, using en", defaultLanguage)
		defaultLanguage = "en"
	}
	t.fallback = defaultLanguage
	t.matcher = language.NewMatcher(tags)
	return t, nil
}

// Supported meldet, ob für lang Übersetzungen vorliegen
func (t *Translator) Supported(lang string) bool {
	_, ok := t.localizers[lang]
	return ok
}

// Match wählt anhand eines Accept-Language-Headers die beste unterstützte Sprache
func (t *Translator) Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return t.fallback
	}
	tag, _, confidence := t.matcher.Match(tags...)
	if confidence == language.No {
		return t.fallback
	}
	base, _ := tag.Base()
	if !t.Supported(base.String()) {
		return t.fallback
	}
	return base.String()
}

// Translate übersetzt messageID. Unbekannte Schlüssel werden unverändert zurückgegeben.
func (t *Translator) Translate(lang, messageID string, data map[string]interface{}) string {
	localizer, ok := t.localizers[lang]
	if !ok {
		localizer = t.localizers[t.fallback]
	}
	if localizer == nil {
		return messageID
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// I18n bestimmt die Sprache der Anfrage: Query-Parameter, dann Session, dann
// Accept-Language. Eine per Query gewählte Sprache wird in der Session gespeichert.
func I18n(t *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && t.Supported(lang) {
			session.Set(languageKey, lang)
			if err := session.Save(); err != nil {
				log.Warnf("Failed to store language in session: %v", err)
			}
		} else if stored, ok := session.Get(languageKey).(string); ok && t.Supported(stored) {
			lang = stored
		} else {
			lang = t.Match(c.GetHeader("Accept-Language"))
		}

		c.Set(languageKey, lang)
		c.Set(translatorKey, t)
		c.Next()
	}
}

// Language gibt die für die Anfrage gewählte Sprache zurück
func Language(c *gin.Context) string {
	return c.GetString(languageKey)
}

// T übersetzt messageID in der Sprache der Anfrage
func T(c *gin.Context, messageID string, data map[string]interface{}) string {
	t, ok := c.Get(translatorKey)
	if !ok {
		return messageID
	}
	return t.(*Translator).Translate(Language(c), messageID, data)
}
