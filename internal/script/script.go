// Package script holds the three-stage conversation script: personas, tool
// schemas, and the stage-2 turn budget.
package script

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/rbright/parley/internal/realtime"
)

// Tool names the model calls to end stage 1 and stage 3.
const (
	IntakeTool     = "complete_intake"
	EvaluationTool = "submit_evaluation"
)

//go:embed default.yaml
var defaultYAML []byte

// Script is the full conversation definition.
type Script struct {
	TranscriptionModel string     `yaml:"transcription_model"`
	Turns              TurnBudget `yaml:"turns"`
	Coach              Persona    `yaml:"coach"`
	Partner            Persona    `yaml:"partner"`
	Evaluation         Evaluation `yaml:"evaluation"`
}

// TurnBudget is the number of stage-2 turns per side.
type TurnBudget struct {
	Partner int `yaml:"partner"`
	User    int `yaml:"user"`
}

// Total is the number of stage-2 turns before evaluation.
func (b TurnBudget) Total() int {
	return b.Partner + b.User
}

type Persona struct {
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
}

type Evaluation struct {
	Instructions string `yaml:"instructions"`
}

// Context is the data available to persona templates.
type Context struct {
	UserName string
	Issue    string
	Context  string
}

// Default returns the built-in script.
func Default() Script {
	s, err := parse(defaultYAML, Script{})
	if err != nil {
		panic(fmt.Sprintf("built-in script is invalid: %v", err))
	}
	return s
}

// Load reads a YAML script from path. Fields the file omits keep their
// built-in values. An empty path returns Default.
func Load(path string) (Script, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script %q: %w", path, err)
	}
	s, err := parse(data, Default())
	if err != nil {
		return Script{}, fmt.Errorf("parse script %q: %w", path, err)
	}
	return s, nil
}

func parse(data []byte, base Script) (Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	s := base
	if err := dec.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Validate checks that every stage is usable.
func (s Script) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Coach.Voice) == "" {
		errs = append(errs, errors.New("coach.voice is required"))
	}
	if strings.TrimSpace(s.Partner.Voice) == "" {
		errs = append(errs, errors.New("partner.voice is required"))
	}
	if s.Turns.Partner < 1 || s.Turns.User < 1 {
		errs = append(errs, errors.New("turns.partner and turns.user must be at least 1"))
	}
	for name, text := range map[string]string{
		"coach.instructions":      s.Coach.Instructions,
		"partner.instructions":    s.Partner.Instructions,
		"evaluation.instructions": s.Evaluation.Instructions,
	} {
		if _, err := template.New(name).Parse(text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// CoachSession is the stage-1 session configuration.
func (s Script) CoachSession(ctx Context) (realtime.SessionConfig, error) {
	instructions, err := render("coach", s.Coach.Instructions, ctx)
	if err != nil {
		return realtime.SessionConfig{}, err
	}
	return realtime.SessionConfig{
		Voice:                   s.Coach.Voice,
		Instructions:            instructions,
		Modalities:              []string{"audio", "text"},
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: s.transcription(),
		Tools:                   []realtime.Tool{intakeTool()},
		ToolChoice:              "auto",
	}, nil
}

// PartnerSession is the stage-2 session configuration. voice overrides the
// scripted partner voice when set.
func (s Script) PartnerSession(ctx Context, voice string) (realtime.SessionConfig, error) {
	instructions, err := render("partner", s.Partner.Instructions, ctx)
	if err != nil {
		return realtime.SessionConfig{}, err
	}
	if strings.TrimSpace(voice) == "" {
		voice = s.Partner.Voice
	}
	return realtime.SessionConfig{
		Voice:                   voice,
		Instructions:            instructions,
		Modalities:              []string{"audio", "text"},
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: s.transcription(),
		Tools:                   []realtime.Tool{evaluationTool()},
		ToolChoice:              "none",
	}, nil
}

// EvaluationResponse requests the silent stage-3 evaluation.
func (s Script) EvaluationResponse(ctx Context) (*realtime.ResponseConfig, error) {
	instructions, err := render("evaluation", s.Evaluation.Instructions, ctx)
	if err != nil {
		return nil, err
	}
	return &realtime.ResponseConfig{
		Modalities:   []string{"text"},
		Instructions: instructions,
		ToolChoice:   "required",
	}, nil
}

func (s Script) transcription() *realtime.Transcription {
	if strings.TrimSpace(s.TranscriptionModel) == "" {
		return nil
	}
	return &realtime.Transcription{Model: s.TranscriptionModel}
}

func render(name, text string, ctx Context) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s instructions: %w", name, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", fmt.Errorf("render %s instructions: %w", name, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// Intake is the argument payload of the intake-complete tool.
type Intake struct {
	Issue        string `json:"issue"`
	Counterpart  string `json:"counterpart,omitempty"`
	Goal         string `json:"goal,omitempty"`
	PartnerVoice string `json:"partner_voice,omitempty"`
}

// ParseIntake decodes intake tool arguments.
func ParseIntake(args json.RawMessage) (Intake, error) {
	var intake Intake
	if len(args) == 0 {
		return intake, nil
	}
	if err := json.Unmarshal(args, &intake); err != nil {
		return Intake{}, fmt.Errorf("decode %s arguments: %w", IntakeTool, err)
	}
	intake.Issue = strings.TrimSpace(intake.Issue)
	return intake, nil
}

func intakeTool() realtime.Tool {
	return realtime.Tool{
		Type:        "function",
		Name:        IntakeTool,
		Description: "Call once the issue, the other person, and the desired outcome are known.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "issue": {"type": "string", "description": "One-sentence description of the issue."},
    "counterpart": {"type": "string", "description": "Who the conversation is with."},
    "goal": {"type": "string", "description": "The outcome the user wants."},
    "partner_voice": {"type": "string", "description": "Optional voice for the role-play partner."}
  },
  "required": ["issue"]
}`),
	}
}

func evaluationTool() realtime.Tool {
	return realtime.Tool{
		Type:        "function",
		Name:        EvaluationTool,
		Description: "Submit the final evaluation of the role-play.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "overall_score": {"type": "number"},
    "skill_level": {"type": "string"},
    "scores": {"type": "object", "additionalProperties": {"type": "number"}},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "improvements": {"type": "array", "items": {"type": "string"}},
    "summary": {"type": "string"}
  },
  "required": ["overall_score", "skill_level"]
}`),
	}
}
