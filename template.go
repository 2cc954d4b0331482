package emailnet

import (
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	textTemplate "text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TemplateEngineImpl implements the TemplateEngine interface.
type TemplateEngineImpl struct {
	config        TemplateConfig
	htmlTemplates map[string]*template.Template
	textTemplates map[string]*textTemplate.Template
	mutex         sync.RWMutex
}

// NewTemplateEngine creates a new template engine with the given configuration.
func NewTemplateEngine(config TemplateConfig) (TemplateEngine, error) {
	engine := &TemplateEngineImpl{
		config:        config,
		htmlTemplates: make(map[string]*template.Template),
		textTemplates: make(map[string]*textTemplate.Template),
	}

	// Load templates from directory if specified
	if config.Directory != "" {
		if err := engine.LoadTemplatesFromDir(config.Directory); err != nil {
			return nil, fmt.Errorf("failed to load templates from directory: %w", err)
		}
	}

	return engine, nil
}

// Render renders a template with the provided data.
func (te *TemplateEngineImpl) Render(templateName string, data any) (string, error) {
	te.mutex.RLock()
	defer te.mutex.RUnlock()

	if htmlTmpl, exists := te.htmlTemplates[templateName]; exists {
		var buf strings.Builder
		if err := htmlTmpl.Execute(&buf, data); err != nil {
			return "", NewTemplateError(templateName, "render", "failed to execute HTML template", err)
		}
		return buf.String(), nil
	}

	if textTmpl, exists := te.textTemplates[templateName]; exists {
		var buf strings.Builder
		if err := textTmpl.Execute(&buf, data); err != nil {
			return "", NewTemplateError(templateName, "render", "failed to execute text template", err)
		}
		return buf.String(), nil
	}

	return "", ErrTemplateNotFound
}

// RegisterTemplate registers a template with the given name and content.
// A name ending in ".html" is escaped as HTML; subjects and text bodies are not.
func (te *TemplateEngineImpl) RegisterTemplate(name string, content string) error {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	if strings.HasSuffix(name, ".html") {
		tmpl, err := template.New(name).Funcs(te.htmlFuncs()).Parse(content)
		if err != nil {
			return NewTemplateError(name, "parse", "failed to parse HTML template", err)
		}
		te.htmlTemplates[name] = tmpl
		delete(te.textTemplates, name)
		return nil
	}

	tmpl, err := textTemplate.New(name).Funcs(textTemplate.FuncMap(baseFuncs())).Parse(content)
	if err != nil {
		return NewTemplateError(name, "parse", "failed to parse text template", err)
	}
	te.textTemplates[name] = tmpl
	delete(te.htmlTemplates, name)
	return nil
}

// LoadTemplatesFromDir loads all templates from the specified directory.
// otp.subject.tmpl in dir is registered as "otp.subject", and
// auth/otp.html.tmpl as "auth.otp.html".
func (te *TemplateEngineImpl) LoadTemplatesFromDir(dir string) error {
	cleanDir := filepath.Clean(dir)

	return filepath.WalkDir(cleanDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		cleanPath := filepath.Clean(path)
		if !isPathWithinDir(cleanPath, cleanDir) {
			return fmt.Errorf("security error: path traversal detected: %s", path)
		}

		ext := filepath.Ext(path)
		if !slices.Contains(te.config.Extension, ext) {
			return nil
		}

		content, err := os.ReadFile(cleanPath)
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", cleanPath, err)
		}

		relativePath, err := filepath.Rel(cleanDir, cleanPath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}

		templateName := strings.TrimSuffix(relativePath, ext)
		templateName = strings.ReplaceAll(templateName, string(filepath.Separator), ".")

		if err := te.RegisterTemplate(templateName, string(content)); err != nil {
			return fmt.Errorf("failed to register template %s: %w", templateName, err)
		}

		return nil
	})
}

// Close closes the template engine and releases any resources.
func (te *TemplateEngineImpl) Close() error {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	te.htmlTemplates = make(map[string]*template.Template)
	te.textTemplates = make(map[string]*textTemplate.Template)

	return nil
}

func (te *TemplateEngineImpl) htmlFuncs() template.FuncMap {
	funcs := template.FuncMap(baseFuncs())

	// Only add unsafe functions if explicitly enabled in config
	if te.config.AllowUnsafeFunctions {
		funcs["unsafeHTML"] = func(s string) template.HTML {
			return template.HTML(s) // #nosec G203 -- opt-in only
		}
		funcs["unsafeURL"] = func(s string) template.URL {
			return template.URL(s) // #nosec G203 -- opt-in only
		}
	}

	return funcs
}

func baseFuncs() map[string]any {
	return map[string]any{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": func(s string) string {
			// A Caser is stateful and cannot be shared between executions.
			return cases.Title(language.English).String(s)
		},
		"trim":    strings.TrimSpace,
		"join":    strings.Join,
		"replace": strings.ReplaceAll,
		"now":     time.Now,
		"formatTime": func(format string, t time.Time) string {
			return t.Format(format)
		},
		"default": func(defaultValue, value any) any {
			if value == nil || value == "" {
				return defaultValue
			}
			return value
		},
	}
}

// isPathWithinDir checks if a given path is within the specified directory to prevent path traversal attacks.
func isPathWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
