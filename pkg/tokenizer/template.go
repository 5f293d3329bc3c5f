package tokenizer

import (
	"bytes"
	"fmt"

	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/templatex"
)

// ChatTemplate renders a single prompt string from a stored Go template
// over a list of chat messages, the way a model's tokenizer_config.json
// chat_template is rendered upstream.
type ChatTemplate struct {
	source string
}

// NewChatTemplate stores source for later rendering. source is expected
// to be a Go text/template referencing `.Messages` and, optionally,
// `.AddGenerationPrompt`.
func NewChatTemplate(source string) *ChatTemplate {
	return &ChatTemplate{source: source}
}

type chatTemplateData struct {
	Messages            []ChatMessage
	AddGenerationPrompt bool
}

// Render applies the stored template to messages. A missing required
// variable or any other template execution failure is returned
// verbatim; the caller wraps it as a TemplateError.
func (c *ChatTemplate) Render(messages []ChatMessage, addGenerationPrompt bool) (string, error) {
	if c.source == "" {
		return "", fmt.Errorf("tokenizer: no chat template configured")
	}

	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
	)

	var buf bytes.Buffer
	data := chatTemplateData{Messages: messages, AddGenerationPrompt: addGenerationPrompt}
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(c.source),
		templatex.WithData(data),
	); err != nil {
		return "", fmt.Errorf("tokenizer: render chat template: %w", err)
	}
	return buf.String(), nil
}

// DefaultChatTemplate renders a plain role-prefixed transcript, used
// when no model-specific template has been configured.
const DefaultChatTemplate = `{{- range .Messages -}}
<|{{ .Role }}|>
{{ .Content }}
{{ end -}}
{{- if .AddGenerationPrompt -}}
<|assistant|>
{{ end -}}`
