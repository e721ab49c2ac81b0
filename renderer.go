package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sync"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// Renderer composes messages from markdown templates with YAML
// frontmatter. The processed markdown becomes the plain text body; its
// HTML conversion — sanitized and wrapped in an html/template layout —
// is attached as the text/html alternative.
type Renderer struct {
	fsys   fs.FS
	md     goldmark.Markdown
	policy *bluemonday.Policy

	templateDir     string
	layoutDir       string
	fallbackSubject string

	// caches hold parsed structure, never rendered output
	templates map[string]*parsedTemplate
	layouts   map[string]*template.Template
	mu        sync.RWMutex
}

type parsedTemplate struct {
	metadata map[string]any
	tmpl     *texttemplate.Template
}

// RendererConfig configures template lookup and subject fallback.
type RendererConfig struct {
	TemplateDir     string // default "."
	LayoutDir       string // default "layouts"
	FallbackSubject string // default "Notification"
}

// NewRenderer creates a renderer over the given filesystem, typically an
// embed.FS holding the application's email templates.
func NewRenderer(fsys fs.FS, cfg RendererConfig) *Renderer {
	if cfg.TemplateDir == "" {
		cfg.TemplateDir = "."
	}
	if cfg.LayoutDir == "" {
		cfg.LayoutDir = "layouts"
	}
	if cfg.FallbackSubject == "" {
		cfg.FallbackSubject = "Notification"
	}

	// UGC policy plus the class attribute the button extension emits
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("a")

	return &Renderer{
		fsys:            fsys,
		md:              goldmark.New(goldmark.WithExtensions(buttonExtension{})),
		policy:          policy,
		templateDir:     cfg.TemplateDir,
		layoutDir:       cfg.LayoutDir,
		fallbackSubject: cfg.FallbackSubject,
		templates:       make(map[string]*parsedTemplate),
		layouts:         make(map[string]*template.Template),
	}
}

// ComposeParams describes one templated message.
type ComposeParams struct {
	To       []string
	Template string // template filename, e.g. "welcome.md"
	Layout   string // layout filename under LayoutDir
	Data     any    // template data

	// optional overrides
	Subject     string // wins over frontmatter Subject and fallback
	From        string
	ReplyTo     []string
	CC          []string
	BCC         []string
	Attachments []Attachment
}

// Compose renders the template and returns a ready-to-send message with
// a plain text body and an HTML alternative. Subject resolution order:
// params.Subject, then the template's frontmatter Subject (itself
// processed as a template against Data), then the configured fallback.
func (r *Renderer) Compose(params ComposeParams) (*Message, error) {
	parsed, err := r.template(params.Template)
	if err != nil {
		return nil, err
	}

	var markdown bytes.Buffer
	if err := parsed.tmpl.Execute(&markdown, params.Data); err != nil {
		return nil, fmt.Errorf("%w: execute %s: %v", ErrRenderFailed, params.Template, err)
	}

	var converted bytes.Buffer
	if err := r.md.Convert(markdown.Bytes(), &converted); err != nil {
		return nil, fmt.Errorf("%w: convert %s: %v", ErrRenderFailed, params.Template, err)
	}
	safeHTML := r.policy.SanitizeBytes(converted.Bytes())

	layout, err := r.layout(params.Layout)
	if err != nil {
		return nil, err
	}
	var html bytes.Buffer
	err = layout.Execute(&html, map[string]any{
		"Content":  template.HTML(safeHTML),
		"Metadata": parsed.metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: execute layout %s: %v", ErrRenderFailed, params.Layout, err)
	}

	subject, err := r.subject(params, parsed.metadata)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Subject:     subject,
		Body:        markdown.String(),
		From:        params.From,
		To:          params.To,
		CC:          params.CC,
		BCC:         params.BCC,
		ReplyTo:     params.ReplyTo,
		Attachments: params.Attachments,
	}
	msg.AttachAlternative(html.String(), "text/html")
	return msg, nil
}

// subject resolves and template-processes the message subject, so
// frontmatter subjects like "Welcome {{.Name}}!" work.
func (r *Renderer) subject(params ComposeParams, metadata map[string]any) (string, error) {
	subject := params.Subject
	if subject == "" {
		if fromMeta, ok := metadata["Subject"].(string); ok {
			subject = fromMeta
		} else {
			subject = r.fallbackSubject
		}
	}

	tmpl, err := texttemplate.New("subject").Parse(subject)
	if err != nil {
		return "", fmt.Errorf("%w: parse subject: %v", ErrRenderFailed, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params.Data); err != nil {
		return "", fmt.Errorf("%w: execute subject: %v", ErrRenderFailed, err)
	}
	return buf.String(), nil
}

func (r *Renderer) template(name string) (*parsedTemplate, error) {
	r.mu.RLock()
	cached, ok := r.templates[name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.templates[name]; ok {
		return cached, nil
	}

	content, err := fs.ReadFile(r.fsys, path.Join(r.templateDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, name, err)
	}
	metadata, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	tmpl, err := texttemplate.New(name).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrRenderFailed, name, err)
	}

	cached = &parsedTemplate{metadata: metadata, tmpl: tmpl}
	r.templates[name] = cached
	return cached, nil
}

func (r *Renderer) layout(name string) (*template.Template, error) {
	r.mu.RLock()
	cached, ok := r.layouts[name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.layouts[name]; ok {
		return cached, nil
	}

	content, err := fs.ReadFile(r.fsys, path.Join(r.layoutDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLayoutNotFound, name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse layout %s: %v", ErrRenderFailed, name, err)
	}

	r.layouts[name] = tmpl
	return tmpl, nil
}
