package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

func TestResolveFillsDefaults(t *testing.T) {
	p := Resolve(schemas.Persona{UserAgent: "custom-agent"})
	assert.Equal(t, "custom-agent", p.UserAgent)
	assert.Equal(t, schemas.DefaultPersona.Platform, p.Platform)
	assert.Equal(t, int64(1440), p.Width)
	assert.Equal(t, int64(1700), p.Height)
	assert.Equal(t, schemas.DefaultPersona.Languages, p.Languages)
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-US", AcceptLanguage([]string{"en-US"}))
	assert.Equal(t, "en-US,en;q=0.9,fr;q=0.8", AcceptLanguage([]string{"en-US", "en", "fr"}))
	assert.Equal(t, "", AcceptLanguage(nil))
}

func TestScriptCarriesPersona(t *testing.T) {
	script := Script(schemas.Persona{Languages: []string{"de-DE", "de"}})
	assert.Contains(t, script, `window.__wayfinderPersona = {languages: ["de-DE","de"]};`)
	assert.Contains(t, script, "webdriver")
}

func TestApply(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	withEvasions := Apply(schemas.Persona{}, true, logger)
	without := Apply(schemas.Persona{}, false, logger)

	assert.Len(t, without, 3)
	assert.Len(t, withEvasions, 6)
	assert.Equal(t, 2, logs.FilterMessage("Applying browser persona").Len())
}
