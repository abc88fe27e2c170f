package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

type messageData struct {
	Title      string
	Paragraphs []string
}

// renderMessage wraps a plain-text body into the branded HTML shell. Blank
// lines in the body become paragraph breaks.
func renderMessage(title, body string) (string, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/message.html")
	if err != nil {
		return "", fmt.Errorf("parse message template: %w", err)
	}

	var paragraphs []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			paragraphs = append(paragraphs, block)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, messageData{Title: title, Paragraphs: paragraphs}); err != nil {
		return "", fmt.Errorf("render message template: %w", err)
	}
	return buf.String(), nil
}
