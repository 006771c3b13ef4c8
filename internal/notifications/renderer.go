package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bissquit/task-garden/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Template names, one file each under templates/.
const (
	TemplateEmailHTML = "email_html"
	TemplateEmailText = "email_text"
	TemplateWebhook   = "webhook"
)

var templateNames = []string{TemplateEmailHTML, TemplateEmailText, TemplateWebhook}

// Renderer renders notification payloads into channel-specific bodies.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":         titleCase,
		"upper":         strings.ToUpper,
		"lower":         strings.ToLower,
		"formatTime":    formatTime,
		"priorityBadge": priorityBadge,
		"typeLabel":     typeLabel,
		"escapeHTML":    html.EscapeString,
	}

	r := &Renderer{templates: make(map[string]*template.Template, len(templateNames))}

	for _, name := range templateNames {
		filename := fmt.Sprintf("templates/%s.tmpl", name)
		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// templateData is the context every template executes against.
type templateData struct {
	Title     string
	Message   string
	Type      domain.NotificationType
	Priority  domain.Priority
	Data      []dataEntry
	CreatedAt time.Time
}

type dataEntry struct {
	Key   string
	Value string
}

// Subject generates the notification subject line.
func (r *Renderer) Subject(n *domain.Notification) string {
	badge := priorityBadge(n.Priority)
	if badge != "" {
		return fmt.Sprintf("[TaskGarden] %s %s", badge, n.Title)
	}
	return fmt.Sprintf("[TaskGarden] %s", n.Title)
}

// Render renders the named template for a notification.
func (r *Renderer) Render(name string, n *domain.Notification) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, buildTemplateData(n)); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// buildTemplateData flattens a notification for templates. The data map is
// sorted so rendered output is deterministic.
func buildTemplateData(n *domain.Notification) templateData {
	entries := make([]dataEntry, 0, len(n.Data))
	for k, v := range n.Data {
		entries = append(entries, dataEntry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return templateData{
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Priority:  n.Priority,
		Data:      entries,
		CreatedAt: n.CreatedAt,
	}
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func typeLabel(t domain.NotificationType) string {
	return titleCase(string(t))
}

func priorityBadge(p domain.Priority) string {
	switch p {
	case domain.PriorityUrgent:
		return "[URGENT]"
	case domain.PriorityHigh:
		return "[HIGH]"
	default:
		return ""
	}
}
