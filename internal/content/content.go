// Package content loads the bot's message table: onboarding prompts, error
// replies, and the tree of result and marketing nodes reached by buttons.
package content

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"bazibot/internal/models"
)

//go:embed content.yaml
var defaultContent []byte

// Section groups content nodes
type Section string

const (
	Onboarding Section = "onboarding"
	Errors     Section = "errors"
	Tree       Section = "tree"
)

// Onboarding keys
const (
	KeyGreeting      = "greeting"
	KeyExplanation   = "explanation"
	KeyAskName       = "ask_name"
	KeyAskEmail      = "ask_email"
	KeyAskPhone      = "ask_phone"
	KeyAskBirthDate  = "ask_birth_date"
	KeyAskTimeChoice = "ask_time_choice"
	KeyAskBirthTime  = "ask_birth_time"
	KeyAskBirthCity  = "ask_birth_city"
	KeyProcessing    = "processing"
)

// Error keys
const (
	KeyInvalidConsent    = "invalid_consent"
	KeyInvalidName       = "invalid_name"
	KeyInvalidEmail      = "invalid_email"
	KeyInvalidPhone      = "invalid_phone"
	KeyInvalidBirthDate  = "invalid_birth_date"
	KeyInvalidTimeChoice = "invalid_time_choice"
	KeyInvalidBirthTime  = "invalid_birth_time"
	KeyInvalidBirthCity  = "invalid_birth_city"
	KeyGenericFailure    = "generic_failure"
	KeyUnknownNode       = "unknown_node"
)

// Tree keys the engine depends on
const (
	KeyResultStart     = "result_start"
	KeyRestartRequired = "restart_required"
	KeyIdleHint        = "idle_hint"
)

var requiredKeys = map[Section][]string{
	Onboarding: {
		KeyGreeting, KeyExplanation, KeyAskName, KeyAskEmail, KeyAskPhone,
		KeyAskBirthDate, KeyAskTimeChoice, KeyAskBirthTime, KeyAskBirthCity, KeyProcessing,
	},
	Errors: {
		KeyInvalidConsent, KeyInvalidName, KeyInvalidEmail, KeyInvalidPhone, KeyInvalidBirthDate,
		KeyInvalidTimeChoice, KeyInvalidBirthTime, KeyInvalidBirthCity, KeyGenericFailure, KeyUnknownNode,
	},
	Tree: {KeyResultStart, KeyRestartRequired, KeyIdleHint},
}

// callbackLimit is Telegram's maximum callback data size in bytes
const callbackLimit = 64

var knownActions = map[string]bool{
	models.CallbackConsent:     true,
	models.CallbackTimeKnown:   true,
	models.CallbackTimeUnknown: true,
	models.CallbackRestart:     true,
}

// ErrUnknownNode is returned when a key is not in the requested section
var ErrUnknownNode = errors.New("unknown content node")

// Button is a button definition. Exactly one of Node, Action and URL is set.
type Button struct {
	Label  string `yaml:"label"`
	Node   string `yaml:"node"`
	Action string `yaml:"action"`
	URL    string `yaml:"url"`
}

// Media is an attachment definition. Variants are keyed by "Element_Polarity"
// and override FileID when the user's chart matches.
type Media struct {
	Kind     models.MediaKind  `yaml:"kind"`
	FileID   string            `yaml:"file_id"`
	Variants map[string]string `yaml:"variants"`
}

// Message is one outbound message of a node
type Message struct {
	Text    string        `yaml:"text"`
	Buttons []Button      `yaml:"buttons"`
	Media   *Media        `yaml:"media"`
	Delay   time.Duration `yaml:"delay"`
}

// Node is an ordered group of messages
type Node struct {
	RequiresChart bool      `yaml:"requires_chart"`
	Messages      []Message `yaml:"messages"`
}

type document struct {
	Onboarding map[string]Node   `yaml:"onboarding"`
	Errors     map[string]Node   `yaml:"errors"`
	Tree       map[string]Node   `yaml:"tree"`
	Commands   map[string]string `yaml:"commands"`
}

// Data is passed to message templates
type Data struct {
	// Name is the contact name, or the platform display name before one is collected
	Name    string
	Profile *models.UserProfile
	Chart   *models.ChartResult
	// Text holds the chart's derived text sections
	Text map[string]string
}

// NewData builds template data from whatever is known about the user.
func NewData(name string, profile *models.UserProfile, chart *models.ChartResult) Data {
	d := Data{Name: name, Profile: profile, Chart: chart}
	if d.Name == "" && profile != nil {
		d.Name = profile.ContactName
		if d.Name == "" {
			d.Name = profile.DisplayName
		}
	}
	if chart != nil {
		d.Text = chart.DerivedText
	}
	return d
}

// Provider renders content nodes
type Provider struct {
	sections  map[Section]map[string]Node
	commands  map[string]string
	templates map[string]*template.Template
}

// Default loads the embedded content table
func Default() (*Provider, error) {
	return Load(bytes.NewReader(defaultContent))
}

// LoadFile loads a content table from disk
func LoadFile(path string) (*Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open content file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a content table.
func Load(r io.Reader) (*Provider, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	p := &Provider{
		sections: map[Section]map[string]Node{
			Onboarding: doc.Onboarding,
			Errors:     doc.Errors,
			Tree:       doc.Tree,
		},
		commands:  doc.Commands,
		templates: make(map[string]*template.Template),
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func templateName(section Section, key string, i int) string {
	return fmt.Sprintf("%s.%s.%d", section, key, i)
}

func (p *Provider) validate() error {
	var errs []error

	for section, keys := range requiredKeys {
		for _, key := range keys {
			if _, ok := p.sections[section][key]; !ok {
				errs = append(errs, fmt.Errorf("%s: missing required node %q", section, key))
			}
		}
	}

	sample := sampleData()
	for _, section := range []Section{Onboarding, Errors, Tree} {
		for _, key := range sortedKeys(p.sections[section]) {
			node := p.sections[section][key]
			where := fmt.Sprintf("%s.%s", section, key)
			if len(node.Messages) == 0 {
				errs = append(errs, fmt.Errorf("%s: no messages", where))
			}
			if node.RequiresChart && section != Tree {
				errs = append(errs, fmt.Errorf("%s: only tree nodes may require a chart", where))
			}
			for i, msg := range node.Messages {
				errs = append(errs, p.validateMessage(section, key, i, msg)...)
			}

			data := sample
			if !node.RequiresChart {
				data = NewData("", &models.UserProfile{UserID: 1, DisplayName: "User"}, nil)
			}
			if _, err := p.render(section, key, node, data); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
	}

	for _, cmd := range sortedKeys(p.commands) {
		if _, ok := p.sections[Tree][p.commands[cmd]]; !ok {
			errs = append(errs, fmt.Errorf("command /%s: unknown node %q", cmd, p.commands[cmd]))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid content: %w", err)
	}
	return nil
}

func (p *Provider) validateMessage(section Section, key string, i int, msg Message) []error {
	var errs []error
	where := fmt.Sprintf("%s.%s[%d]", section, key, i)

	if strings.TrimSpace(msg.Text) == "" && msg.Media == nil {
		errs = append(errs, fmt.Errorf("%s: message has neither text nor media", where))
	}
	if msg.Delay < 0 {
		errs = append(errs, fmt.Errorf("%s: negative delay", where))
	}

	tmpl, err := template.New(templateName(section, key, i)).Option("missingkey=zero").Parse(msg.Text)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", where, err))
	} else {
		p.templates[tmpl.Name()] = tmpl
	}

	for _, b := range msg.Buttons {
		if err := p.validateButton(b); err != nil {
			errs = append(errs, fmt.Errorf("%s: button %q: %w", where, b.Label, err))
		}
	}

	if m := msg.Media; m != nil {
		switch m.Kind {
		case models.MediaPhoto, models.MediaVoice, models.MediaVideo:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown media kind %q", where, m.Kind))
		}
		if m.FileID == "" && len(m.Variants) == 0 {
			errs = append(errs, fmt.Errorf("%s: media has no file id", where))
		}
		for variant := range m.Variants {
			if !validVariant(variant) {
				errs = append(errs, fmt.Errorf("%s: bad media variant %q", where, variant))
			}
		}
	}
	return errs
}

func (p *Provider) validateButton(b Button) error {
	if strings.TrimSpace(b.Label) == "" {
		return errors.New("empty label")
	}
	set := 0
	for _, v := range []string{b.Node, b.Action, b.URL} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of node, action and url must be set")
	}
	switch {
	case b.Node != "":
		if _, ok := p.sections[Tree][b.Node]; !ok {
			return fmt.Errorf("unknown node %q", b.Node)
		}
		if len(models.NodeCallback(b.Node)) > callbackLimit {
			return fmt.Errorf("callback for node %q exceeds %d bytes", b.Node, callbackLimit)
		}
	case b.Action != "":
		if !knownActions[b.Action] {
			return fmt.Errorf("unknown action %q", b.Action)
		}
	case b.URL != "":
		u, err := url.Parse(b.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid url %q", b.URL)
		}
	}
	return nil
}

func validVariant(key string) bool {
	element, polarity, ok := strings.Cut(key, "_")
	if !ok {
		return false
	}
	if _, err := models.ParseElement(element); err != nil {
		return false
	}
	_, err := models.ParsePolarity(polarity)
	return err == nil
}

// Has reports whether the section contains key
func (p *Provider) Has(section Section, key string) bool {
	_, ok := p.sections[section][key]
	return ok
}

// RequiresChart reports whether a tree node needs the user's chart
func (p *Provider) RequiresChart(key string) bool {
	return p.sections[Tree][key].RequiresChart
}

// CommandNode returns the tree node a command maps to
func (p *Provider) CommandNode(command string) (string, bool) {
	key, ok := p.commands[command]
	return key, ok
}

// Render produces the outbound messages of a node.
func (p *Provider) Render(section Section, key string, data Data) ([]models.Outbound, error) {
	node, ok := p.sections[section][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownNode, section, key)
	}
	return p.render(section, key, node, data)
}

func (p *Provider) render(section Section, key string, node Node, data Data) ([]models.Outbound, error) {
	out := make([]models.Outbound, 0, len(node.Messages))
	for i, msg := range node.Messages {
		tmpl, ok := p.templates[templateName(section, key, i)]
		if !ok {
			return nil, fmt.Errorf("template %s not parsed", templateName(section, key, i))
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
		}

		o := models.Outbound{
			Text:  strings.TrimSpace(buf.String()),
			Delay: msg.Delay,
		}
		for _, b := range msg.Buttons {
			ob := models.Button{Label: b.Label, URL: b.URL, Callback: b.Action}
			if b.Node != "" {
				ob.Callback = models.NodeCallback(b.Node)
			}
			o.Buttons = append(o.Buttons, ob)
		}
		if msg.Media != nil {
			if media := pickMedia(msg.Media, data.Chart); media != nil {
				o.Media = media
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func pickMedia(m *Media, chart *models.ChartResult) *models.Media {
	fileID := m.FileID
	if chart != nil {
		if v, ok := m.Variants[chart.Key()]; ok {
			fileID = v
		}
	}
	if fileID == "" {
		return nil
	}
	return &models.Media{Kind: m.Kind, FileID: fileID}
}

func sampleData() Data {
	chart := models.ChartResult{
		Element:      models.Wood,
		Polarity:     models.Yang,
		AnimalOfYear: "Rat",
		DerivedText: map[string]string{
			models.SectionDescription:   "d",
			models.SectionSuperpower:    "s",
			models.SectionTraits:        "t",
			models.SectionMonthlyAdvice: "m",
			models.SectionYearSummary:   "y",
			models.SectionStrategy:      "g",
		},
		BirthDate: "01.01.2000",
		BirthTime: "12:00",
		BirthCity: "City",
	}
	profile := models.UserProfile{UserID: 1, DisplayName: "User", ContactName: "User", Chart: &chart}
	return NewData("", &profile, &chart)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
