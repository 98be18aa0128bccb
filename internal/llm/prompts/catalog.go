// Package prompts holds the embedded prompt catalogue: per-stage templates, response schemas,
// model selection and token pricing.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml templates/*.md schemas/*.json
var files embed.FS

var ErrUnknownStage = errors.New("unknown prompt stage")

// Price is USD per million tokens.
type Price struct {
	Prompt     float64 `yaml:"prompt"`
	Cached     float64 `yaml:"cached"`
	Completion float64 `yaml:"completion"`
}

type stageDef struct {
	Model       string                 `yaml:"model"`
	System      string                 `yaml:"system"`
	User        string                 `yaml:"user"`
	Schema      string                 `yaml:"schema"`
	Temperature *float32               `yaml:"temperature"`
	Models      map[string]overrideDef `yaml:"models"`
}

type overrideDef struct {
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	Schema      string   `yaml:"schema"`
	Temperature *float32 `yaml:"temperature"`
}

type catalogFile struct {
	Version      int                 `yaml:"version"`
	DefaultModel string              `yaml:"default_model"`
	Pricing      map[string]Price    `yaml:"pricing"`
	Stages       map[string]stageDef `yaml:"stages"`
}

// Stage is a resolved prompt set for one stage and model.
type Stage struct {
	Name        string
	Model       string
	Schema      json.RawMessage
	Temperature *float32

	system *template.Template
	user   *template.Template
}

// Catalog is the parsed, immutable prompt catalogue.
type Catalog struct {
	Version      int
	DefaultModel string

	pricing map[string]Price
	stages  map[string]stageDef
	fsys    embed.FS

	mu    sync.Mutex
	cache map[string]*Stage
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the embedded catalogue, parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Load(files)
	})
	return defaultCat, defaultErr
}

// Load parses catalog.yaml from fsys.
func Load(fsys embed.FS) (*Catalog, error) {
	raw, err := fsys.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if cf.DefaultModel == "" {
		return nil, errors.New("catalog: default_model is required")
	}
	return &Catalog{
		Version:      cf.Version,
		DefaultModel: cf.DefaultModel,
		pricing:      cf.Pricing,
		stages:       cf.Stages,
		fsys:         fsys,
		cache:        map[string]*Stage{},
	}, nil
}

// Lookup resolves the prompts for stage. An empty model selects the stage's configured model;
// a model without overrides falls back to the stage defaults.
func (c *Catalog) Lookup(stage, model string) (*Stage, error) {
	def, ok := c.stages[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	if model == "" {
		model = def.Model
	}
	if model == "" {
		model = c.DefaultModel
	}

	key := stage + "|" + model
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[key]; ok {
		return s, nil
	}

	systemFile, userFile, schemaFile, temp := def.System, def.User, def.Schema, def.Temperature
	if ov, ok := def.Models[model]; ok {
		systemFile = firstNonEmpty(ov.System, systemFile)
		userFile = firstNonEmpty(ov.User, userFile)
		schemaFile = firstNonEmpty(ov.Schema, schemaFile)
		if ov.Temperature != nil {
			temp = ov.Temperature
		}
	}

	s := &Stage{Name: stage, Model: model, Temperature: temp}
	var err error
	if s.system, err = c.parseTemplate(systemFile); err != nil {
		return nil, err
	}
	if s.user, err = c.parseTemplate(userFile); err != nil {
		return nil, err
	}
	if schemaFile != "" {
		raw, err := c.fsys.ReadFile(path.Join("schemas", schemaFile))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", schemaFile, err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("schema %s is not valid JSON", schemaFile)
		}
		s.Schema = raw
	}
	c.cache[key] = s
	return s, nil
}

func (c *Catalog) parseTemplate(name string) (*template.Template, error) {
	if name == "" {
		return nil, errors.New("catalog: missing template name")
	}
	raw, err := c.fsys.ReadFile(path.Join("templates", name))
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	t, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

// Render executes the system and user templates with vars.
func (s *Stage) Render(vars map[string]any) (system, user string, err error) {
	var sb, ub bytes.Buffer
	if err := s.system.Execute(&sb, vars); err != nil {
		return "", "", fmt.Errorf("render %s system: %w", s.Name, err)
	}
	if err := s.user.Execute(&ub, vars); err != nil {
		return "", "", fmt.Errorf("render %s user: %w", s.Name, err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}

// EstimateCost returns the USD cost of a call, or 0 when the model has no pricing entry.
// Cached tokens are a subset of prompt tokens.
func (c *Catalog) EstimateCost(model string, prompt, cached, completion int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0
	}
	uncached := prompt - cached
	if uncached < 0 {
		uncached = 0
	}
	cost := float64(uncached)*p.Prompt + float64(cached)*p.Cached + float64(completion)*p.Completion
	return cost / 1_000_000
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
