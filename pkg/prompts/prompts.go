// Package prompts loads the model prompt templates shipped with the
// engine. Templates are opaque assets with {{placeholder}} substitution;
// no prompt logic lives in Go code.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	cache   = map[string]string{}
	cacheMu sync.RWMutex
)

// Load returns the raw template by name (file name without extension).
// Templates are read once and cached.
func Load(name string) (string, error) {
	cacheMu.RLock()
	if tmpl, ok := cache[name]; ok {
		cacheMu.RUnlock()
		return tmpl, nil
	}
	cacheMu.RUnlock()

	raw, err := templateFS.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return "", fmt.Errorf("unknown prompt template %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[name] = string(raw)
	cacheMu.Unlock()
	return string(raw), nil
}

// Render loads a template and substitutes every {{key}} placeholder with
// its value. Placeholders without a value substitute to the empty string.
func Render(name string, values map[string]string) (string, error) {
	tmpl, err := Load(name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for {
		start := strings.Index(tmpl, "{{")
		if start < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			b.WriteString(tmpl)
			break
		}

		b.WriteString(tmpl[:start])
		key := strings.TrimSpace(tmpl[start+2 : start+end])
		b.WriteString(values[key])
		tmpl = tmpl[start+end+2:]
	}

	return b.String(), nil
}
