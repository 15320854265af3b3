// Package prompt holds the templates the generation pipeline renders: the
// analysis request and the system prompt for the reply. Both can be
// overridden from a YAML or JSON file.
package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

const defaultAnalysis = `You are the analysis engine for Nova. Analyze the user's message and the
conversation so far to prepare a helpful response.

Conversation History:
{{- range .History}}
{{.Role}}: {{.Content}}
{{- end}}

User Message: {{.Message}}

Your analysis should include:
1. Key points or facts from the message
2. Any required context from the conversation history
3. The appropriate response style or tone
4. Whether this interaction should be added to the conversation memory

Respond with a JSON object only:
{
  "key_points": ["..."],
  "required_context": ["..."],
  "response_style": "friendly",
  "needs_memory_update": false,
  "metadata": {}
}`

const defaultSystem = `You are Nova, a helpful AI assistant. Below is an analysis of the user's message.

Key Points:
{{- range .KeyPoints}}
- {{.}}
{{- end}}

Context from Conversation:
{{- if .RequiredContext}}
{{- range .RequiredContext}}
- {{.}}
{{- end}}
{{- else}}
No specific context needed.
{{- end}}

Response Style: {{.ResponseStyle}}

Please respond to the user in a {{.ResponseStyle}} manner.`

const defaultSummary = `Summarize the following conversation in a few sentences. Keep facts,
preferences and commitments the user stated; drop pleasantries.

{{range .History}}{{.Role}}: {{.Content}}
{{end}}`

// Set is the collection of templates, as written in a prompt file.
type Set struct {
	Analysis string `json:"analysis" yaml:"analysis"`
	System   string `json:"system" yaml:"system"`
	Summary  string `json:"summary" yaml:"summary"`
}

// Turn is one line of conversation history as the templates see it.
type Turn struct {
	Role    string
	Content string
}

// AnalysisData feeds the analysis template.
type AnalysisData struct {
	History []Turn
	Message string
}

// SystemData feeds the system prompt template.
type SystemData struct {
	KeyPoints       []string
	RequiredContext []string
	ResponseStyle   string
}

// SummaryData feeds the summary template.
type SummaryData struct {
	History []Turn
}

// Templates is a parsed, ready-to-render Set.
type Templates struct {
	analysis *template.Template
	system   *template.Template
	summary  *template.Template
}

// Default returns the built-in templates.
func Default() Set {
	return Set{Analysis: defaultAnalysis, System: defaultSystem, Summary: defaultSummary}
}

// Load reads a prompt file (JSON or YAML). Missing entries keep their defaults.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return Set{}, fmt.Errorf("failed to read prompt file: %w", err)
	}

	var set Set
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &set); err != nil {
			return Set{}, fmt.Errorf("failed to unmarshal JSON prompts: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &set); err != nil {
			return Set{}, fmt.Errorf("failed to unmarshal YAML prompts: %w", err)
		}
	default:
		return Set{}, fmt.Errorf("unsupported prompt format: %s (use .json or .yaml)", ext)
	}

	def := Default()
	if set.Analysis == "" {
		set.Analysis = def.Analysis
	}
	if set.System == "" {
		set.System = def.System
	}
	if set.Summary == "" {
		set.Summary = def.Summary
	}
	return set, nil
}

// Compile parses every template and dry-runs it with sample data, so a bad
// override fails at startup rather than mid-conversation.
func (s Set) Compile() (*Templates, error) {
	var errs []error
	parse := func(name, text string) *template.Template {
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("%s template is empty", name))
			return nil
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s template: %w", name, err))
			return nil
		}
		return tmpl
	}

	t := &Templates{
		analysis: parse("analysis", s.Analysis),
		system:   parse("system", s.System),
		summary:  parse("summary", s.Summary),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sample := []Turn{{Role: "user", Content: "hi"}}
	if _, err := t.Analysis(AnalysisData{History: sample, Message: "hi"}); err != nil {
		errs = append(errs, err)
	}
	if _, err := t.System(SystemData{KeyPoints: []string{"hi"}, ResponseStyle: "friendly"}); err != nil {
		errs = append(errs, err)
	}
	if _, err := t.Summary(SummaryData{History: sample}); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// MustDefault compiles the built-in templates.
func MustDefault() *Templates {
	t, err := Default().Compile()
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Templates) Analysis(data AnalysisData) (string, error) {
	return render(t.analysis, data)
}

func (t *Templates) System(data SystemData) (string, error) {
	return render(t.system, data)
}

func (t *Templates) Summary(data SummaryData) (string, error) {
	return render(t.summary, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
