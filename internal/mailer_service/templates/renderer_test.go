package templates

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

func writeTemplates(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRenderBothVariants(t *testing.T) {
	dir := writeTemplates(t, map[string]string{
		"welcome.html": `<h1>Hello {{.Name}}</h1>`,
		"welcome.txt":  `Hello {{.Name}}`,
	})

	msg := &domain.Message{}
	r := NewRenderer(dir, false, testLogger())
	err := r.Render(msg, "welcome", map[string]any{"Name": "Ada"})
	require.NoError(t, err)

	assert.Equal(t, "<h1>Hello Ada</h1>", msg.HTML)
	assert.Equal(t, "Hello Ada", msg.Text)
}

func TestRenderWithBlocks(t *testing.T) {
	dir := writeTemplates(t, map[string]string{
		"notice.html":        `<p>{{.Body}}</p>{{template "footer.html" .}}`,
		"notice.txt":         `{{.Body}}{{template "footer.txt" .}}`,
		"blocks/footer.html": `<footer>{{.Brand}}</footer>`,
		"blocks/footer.txt":  ` -- {{.Brand}}`,
	})

	msg := &domain.Message{}
	r := NewRenderer(dir, false, testLogger())
	err := r.Render(msg, "notice", map[string]any{"Body": "hi", "Brand": "MailAlchemy"})
	require.NoError(t, err)

	assert.Equal(t, "<p>hi</p><footer>MailAlchemy</footer>", msg.HTML)
	assert.Equal(t, "hi -- MailAlchemy", msg.Text)
}

func TestRenderSprigFuncs(t *testing.T) {
	dir := writeTemplates(t, map[string]string{
		"shout.html": `{{upper .Name}}`,
	})

	msg := &domain.Message{}
	r := NewRenderer(dir, false, testLogger())
	require.NoError(t, r.Render(msg, "shout", map[string]any{"Name": "ada"}))
	assert.Equal(t, "ADA", msg.HTML)
}

func TestRenderMissingHTMLVariant(t *testing.T) {
	dir := writeTemplates(t, map[string]string{
		"only-text.txt": `hi`,
	})

	msg := &domain.Message{}
	r := NewRenderer(dir, false, testLogger())
	err := r.Render(msg, "only-text", nil)
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestRenderMissingPlaintextVariant(t *testing.T) {
	dir := writeTemplates(t, map[string]string{
		"only-html.html": `<p>hi</p>`,
	})

	t.Run("OptionalByDefault", func(t *testing.T) {
		msg := &domain.Message{}
		r := NewRenderer(dir, false, testLogger())
		require.NoError(t, r.Render(msg, "only-html", nil))
		assert.Equal(t, "<p>hi</p>", msg.HTML)
		assert.Empty(t, msg.Text)
	})

	t.Run("RequiredByConfig", func(t *testing.T) {
		msg := &domain.Message{}
		r := NewRenderer(dir, true, testLogger())
		err := r.Render(msg, "only-html", nil)
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	})
}

func TestRenderHTMLEscaping(t *testing.T) {
	dir := writeTemplates(t, map[string]string{
		"esc.html": `{{.Payload}}`,
	})

	msg := &domain.Message{}
	r := NewRenderer(dir, false, testLogger())
	require.NoError(t, r.Render(msg, "esc", map[string]any{"Payload": `<script>`}))
	assert.Equal(t, "&lt;script&gt;", msg.HTML)
}
