package prompts

import (
	"fmt"
	"regexp"
	"sync"
)

var varRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Engine holds named prompt templates and renders them with {{variable}}
// substitution. The default templates are registered at construction;
// callers may override any of them by name.
type Engine struct {
	mu        sync.RWMutex
	templates map[string]string
}

func NewEngine() *Engine {
	e := &Engine{templates: make(map[string]string)}
	for name, content := range defaultTemplates {
		e.templates[name] = content
	}
	return e
}

// Register adds or replaces a template.
func (e *Engine) Register(name, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[name] = content
}

// Render substitutes {{var}} placeholders from vars. An unbound placeholder
// is an error: a prompt with a raw placeholder in it would silently degrade
// generation quality.
func (e *Engine) Render(name string, vars map[string]string) (string, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := varRe.FindStringSubmatch(match)[1]
		value, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template %s: unbound variables %v", name, missing)
	}
	return out, nil
}
