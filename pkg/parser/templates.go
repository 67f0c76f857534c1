package parser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ArionMiles/upiledger/pkg/api"
)

//go:embed templates.json
var defaultTemplates string

// Capture group names every template pattern must define.
const (
	groupAmount    = "amount"
	groupAccount   = "account"
	groupVPA       = "vpa"
	groupName      = "name"
	groupDate      = "date"
	groupReference = "reference"
)

var requiredGroups = []string{groupAmount, groupAccount, groupVPA, groupName, groupDate, groupReference}

// Fields holds the raw strings captured by a template, before normalization.
type Fields struct {
	Type      api.TxnType
	Amount    string
	Account   string
	VPA       string
	Name      string
	Date      string
	Reference string
}

// Template recognizes one shape of bank notification.
type Template interface {
	// Name identifies the template in logs and errors.
	Name() string
	// Match reports whether text conforms to the template in full.
	Match(text string) (Fields, bool)
}

// TemplateConfig is the on-disk form of a regex template.
type TemplateConfig struct {
	Name    string `json:"name"`
	Bank    string `json:"bank,omitempty"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	Pattern string `json:"pattern"`
}

// RegexTemplate matches a notification with a regular expression using named groups.
type RegexTemplate struct {
	name    string
	txnType api.TxnType
	re      *regexp.Regexp
	index   map[string]int
}

// NewRegexTemplate compiles pattern and checks that it defines every required group.
func NewRegexTemplate(name string, txnType api.TxnType, pattern string) (*RegexTemplate, error) {
	if !txnType.Valid() {
		return nil, fmt.Errorf("template %q: unknown type %q", name, txnType)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("template %q: compiling pattern: %w", name, err)
	}

	index := make(map[string]int, len(requiredGroups))
	for i, group := range re.SubexpNames() {
		if group != "" {
			index[group] = i
		}
	}
	for _, group := range requiredGroups {
		if _, ok := index[group]; !ok {
			return nil, fmt.Errorf("template %q: missing capture group %q", name, group)
		}
	}

	return &RegexTemplate{
		name:    name,
		txnType: txnType,
		re:      re,
		index:   index,
	}, nil
}

// Name returns the template name.
func (t *RegexTemplate) Name() string { return t.name }

// Match applies the pattern. All six groups must capture a non-empty value.
func (t *RegexTemplate) Match(text string) (Fields, bool) {
	m := t.re.FindStringSubmatch(text)
	if m == nil {
		return Fields{}, false
	}

	get := func(group string) string {
		return m[t.index[group]]
	}

	f := Fields{
		Type:      t.txnType,
		Amount:    get(groupAmount),
		Account:   get(groupAccount),
		VPA:       get(groupVPA),
		Name:      get(groupName),
		Date:      get(groupDate),
		Reference: get(groupReference),
	}
	if f.Amount == "" || f.Account == "" || f.VPA == "" || strings.TrimSpace(f.Name) == "" ||
		f.Date == "" || f.Reference == "" {
		return Fields{}, false
	}

	return f, true
}

// LoadTemplates reads a JSON array of TemplateConfig and compiles the enabled entries
// in file order.
func LoadTemplates(r io.Reader) ([]Template, error) {
	var configs []TemplateConfig
	if err := json.NewDecoder(r).Decode(&configs); err != nil {
		return nil, fmt.Errorf("parsing templates JSON: %w", err)
	}

	templates := make([]Template, 0, len(configs))
	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if cfg.Name == "" {
			return nil, fmt.Errorf("template %d: name is required", i)
		}
		tmpl, err := NewRegexTemplate(cfg.Name, api.TxnType(cfg.Type), cfg.Pattern)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}

	return templates, nil
}

// DefaultTemplates returns the built-in HDFC UPI credit and debit templates.
func DefaultTemplates() []Template {
	templates, err := LoadTemplates(strings.NewReader(defaultTemplates))
	if err != nil {
		panic(fmt.Sprintf("embedded templates are invalid: %v", err))
	}
	return templates
}
