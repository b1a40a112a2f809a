package ai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// StagePrompt holds the prompt and sampling parameters of one model stage
type StagePrompt struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds all prompts used by the classifier and the workflow
type PromptConfig struct {
	Classifier StagePrompt `yaml:"classifier"`
	Analyze    StagePrompt `yaml:"analyze"`
	Extract    StagePrompt `yaml:"extract"`
}

// DefaultPrompts returns the built-in prompt set
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		Classifier: StagePrompt{
			Temperature:  0.1,
			MaxTokens:    120,
			System:       classifierSystemPrompt,
			UserTemplate: classifierUserTemplate,
		},
		Analyze: StagePrompt{
			Temperature:  0.3,
			MaxTokens:    600,
			System:       analyzeSystemPrompt,
			UserTemplate: analyzeUserTemplate,
		},
		Extract: StagePrompt{
			Temperature:  0.3,
			MaxTokens:    600,
			System:       extractSystemPrompt,
			UserTemplate: extractUserTemplate,
		},
	}
}

// LoadPrompts reads prompt overrides from a YAML file. Stages or fields left
// empty in the file keep their built-in values.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var overrides PromptConfig
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	prompts := DefaultPrompts()
	prompts.Classifier.merge(overrides.Classifier)
	prompts.Analyze.merge(overrides.Analyze)
	prompts.Extract.merge(overrides.Extract)

	if err := prompts.Validate(); err != nil {
		return nil, err
	}

	return prompts, nil
}

// Validate checks that every template parses
func (p *PromptConfig) Validate() error {
	for name, stage := range map[string]StagePrompt{
		"classifier": p.Classifier,
		"analyze":    p.Analyze,
		"extract":    p.Extract,
	} {
		if stage.System == "" {
			return fmt.Errorf("prompts.%s.system is required", name)
		}
		if _, err := template.New(name).Parse(stage.UserTemplate); err != nil {
			return fmt.Errorf("prompts.%s.user_template: %w", name, err)
		}
	}
	return nil
}

// Render executes the user template with the given data
func (s StagePrompt) Render(data interface{}) (string, error) {
	return renderTemplate(s.UserTemplate, data)
}

func (s *StagePrompt) merge(o StagePrompt) {
	if o.Temperature != 0 {
		s.Temperature = o.Temperature
	}
	if o.MaxTokens != 0 {
		s.MaxTokens = o.MaxTokens
	}
	if o.System != "" {
		s.System = o.System
	}
	if o.UserTemplate != "" {
		s.UserTemplate = o.UserTemplate
	}
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

const classifierSystemPrompt = `You are a message classifier. Decide whether the message contains an actionable task or commitment.

Actionable indicators:
- Action verbs: "send", "review", "schedule", "update", "fix", "create"
- Time constraints: "by tomorrow", "this week", "EOD"
- Requests: "can you", "please", "could you"
- Commitments: "I'll", "I will", "let me"

Non-actionable:
- Greetings: "hi", "thanks", "good morning"
- Acknowledgments: "got it", "ok", "understood"
- Questions without requests: "how are you"

Respond with ONLY a JSON object: {"actionable": true or false, "rationale": "<one sentence>"}`

const classifierUserTemplate = `Message: {{.Text}}

Is this actionable?`

const analyzeSystemPrompt = `You are a task inference assistant. You receive one message that was judged to contain a task.
Explain briefly why it is actionable and quote the sentence(s) that prove it.

Rules:
- "evidence" entries must be copied character for character from the message
- "certainty" is how sure you are this is a real task, 0 to 100

Respond with ONLY a JSON object:
{"reason": "<short judgment>", "evidence": ["<verbatim sentence>"], "certainty": <0-100>}`

const analyzeUserTemplate = `Source: {{.Source}}
Sent at: {{.Origin}}

Message:
{{.Text}}`

const extractSystemPrompt = `You are a task parameter extractor. From the message and the analysis, extract exactly one task.

Fields:
- title: clear, concise, imperative (e.g. "Send Q4 report")
- description: one or two sentences with the relevant context
- assignee: who should do it, empty string if unknown
- action: the action verb
- object: what the action applies to
- due_phrase: the deadline words exactly as written (e.g. "by Friday", "EOD tomorrow"), empty string if none
- priority_signal: "urgent" or "asap" only if the message says so, otherwise empty string
- evidence: the single sentence from the message that states the task, copied character for character

Respond with ONLY a JSON object with these keys.`

const extractUserTemplate = `Sent at: {{.Origin}}

Message:
{{.Text}}

Analysis: {{.Reason}}
{{- range .Evidence}}
Evidence: {{.}}
{{- end}}
{{- if .Correction}}

Your previous answer was rejected: {{.Correction}}
Fix these problems. The evidence must be an exact substring of the message.
{{- end}}`
