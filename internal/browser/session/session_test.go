// internal/browser/session/session_test.go
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

func TestExecOptions(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	base := len(ExecOptions(cfg))

	cfg.IgnoreTLSErrors = true
	cfg.Args = []string{"--lang=en-US", "mute-audio"}
	assert.Len(t, ExecOptions(cfg), base+3)

	cfg.Headless = false
	assert.Len(t, ExecOptions(cfg), base+2)
}

func TestPersonaFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.UserAgent = "wayfinder-test"
	cfg.Viewport = config.ViewportConfig{Width: 800, Height: 600}

	p := PersonaFromConfig(cfg)
	assert.Equal(t, "wayfinder-test", p.UserAgent)
	assert.Equal(t, int64(800), p.Width)
	assert.Equal(t, int64(600), p.Height)
	assert.Equal(t, schemas.DefaultPersona.Locale, p.Locale)
}

func TestScrollScript(t *testing.T) {
	for _, dir := range []schemas.ScrollDirection{schemas.ScrollUp, schemas.ScrollDown, schemas.ScrollTop, schemas.ScrollBottom} {
		script, err := ScrollScript(dir)
		assert.NoError(t, err)
		assert.Contains(t, script, "window.scroll")
	}
	_, err := ScrollScript("left")
	assert.Error(t, err)
}
