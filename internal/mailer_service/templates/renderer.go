// Package templates renders mail bodies from a conventional template
// directory: <dir>/<name>.html and <dir>/<name>.txt, with reusable fragments
// under <dir>/blocks/.
package templates

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"os"
	"path/filepath"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

type Renderer struct {
	dir               string
	plaintextRequired bool
	logger            *slog.Logger
}

// NewRenderer creates a Renderer over the given template root (conventionally
// "mail"). When plaintextRequired is false a missing .txt variant is
// tolerated; the .html variant is always required.
func NewRenderer(dir string, plaintextRequired bool, logger *slog.Logger) *Renderer {
	return &Renderer{dir: dir, plaintextRequired: plaintextRequired, logger: logger}
}

// Render fills msg.HTML from <dir>/<name>.html and msg.Text from
// <dir>/<name>.txt, executing both with the given values and any fragments
// from <dir>/blocks/.
func (r *Renderer) Render(msg *domain.Message, name string, values map[string]any) error {
	html, err := r.renderHTML(name, values)
	if err != nil {
		return err
	}

	text, err := r.renderText(name, values)
	if err != nil {
		return err
	}

	msg.HTML = html
	msg.Text = text
	return nil
}

func (r *Renderer) renderHTML(name string, values map[string]any) (string, error) {
	mainFile := filepath.Join(r.dir, name+".html")
	if _, err := os.Stat(mainFile); err != nil {
		r.logger.Warn("HTML template variant missing", "template", name, "path", mainFile)
		return "", fmt.Errorf("%w: %s.html", domain.ErrTemplateNotFound, name)
	}

	files := append([]string{mainFile}, r.blockFiles("*.html")...)
	tmpl, err := htmltemplate.New(filepath.Base(mainFile)).Funcs(sprig.HtmlFuncMap()).ParseFiles(files...)
	if err != nil {
		return "", fmt.Errorf("parse html template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, filepath.Base(mainFile), values); err != nil {
		return "", fmt.Errorf("execute html template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) renderText(name string, values map[string]any) (string, error) {
	mainFile := filepath.Join(r.dir, name+".txt")
	if _, err := os.Stat(mainFile); err != nil {
		if r.plaintextRequired {
			r.logger.Warn("Plaintext template variant missing", "template", name, "path", mainFile)
			return "", fmt.Errorf("%w: %s.txt", domain.ErrTemplateNotFound, name)
		}
		return "", nil
	}

	files := append([]string{mainFile}, r.blockFiles("*.txt")...)
	tmpl, err := texttemplate.New(filepath.Base(mainFile)).Funcs(sprig.TxtFuncMap()).ParseFiles(files...)
	if err != nil {
		return "", fmt.Errorf("parse text template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, filepath.Base(mainFile), values); err != nil {
		return "", fmt.Errorf("execute text template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) blockFiles(pattern string) []string {
	matches, err := filepath.Glob(filepath.Join(r.dir, "blocks", pattern))
	if err != nil {
		return nil
	}
	return matches
}
