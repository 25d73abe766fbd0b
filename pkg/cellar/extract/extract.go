// Package extract turns one line of a wine list into a structured candidate.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cognicore/cellar/pkg/cellar/completion"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// Method records which path produced a candidate.
type Method string

const (
	MethodModel   Method = "model"
	MethodPattern Method = "pattern"
)

// Candidate is a parsed wine line before it is matched against the catalog.
type Candidate struct {
	Producer    string  `json:"producer,omitempty"`
	Name        string  `json:"name"`
	Vintage     string  `json:"vintage,omitempty"`
	Varietal    string  `json:"varietal,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	Appellation string  `json:"appellation,omitempty"`
	WineType    string  `json:"wine_type,omitempty"`
	Style       string  `json:"style,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Method      Method  `json:"method"`
}

// Wine converts the candidate into an unsaved catalog record.
func (c Candidate) Wine() store.Wine {
	return store.Wine{
		Producer:    c.Producer,
		Name:        c.Name,
		Vintage:     c.Vintage,
		Varietal:    c.Varietal,
		Region:      c.Region,
		Country:     c.Country,
		Appellation: c.Appellation,
		WineType:    c.WineType,
		Style:       c.Style,
	}
}

// Options configures an Extractor.
type Options struct {
	// MinLineLength is the minimum number of runes a trimmed line needs.
	MinLineLength int
	// Completer is optional; without it only the pattern path runs.
	Completer completion.Completer
	// Model overrides the completer's default model.
	Model string
}

// Extractor parses wine-list lines.
type Extractor struct {
	minLen    int
	completer completion.Completer
	model     string
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.MinLineLength <= 0 {
		opts.MinLineLength = 4
	}
	return &Extractor{
		minLen:    opts.MinLineLength,
		completer: opts.Completer,
		model:     opts.Model,
	}
}

const systemPrompt = `You convert one line of a restaurant wine list into JSON.
Return a single object with the keys producer, name, vintage, varietal, region,
country, appellation, wine_type, style and price. Use an empty string for
unknown text fields, "NV" for non-vintage wines and 0 for an unknown price.
wine_type is one of red, white, rose, sparkling, dessert, fortified.
Do not add any other keys.`

// Extract parses a single line. Lines that are not wines are rejected with
// internalerr.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, line string) (Candidate, error) {
	line = strings.TrimSpace(line)
	if reason := e.reject(line); reason != "" {
		return Candidate{}, fmt.Errorf("%w: %s", internalerr.ErrExtraction, reason)
	}

	if e.completer != nil {
		c, err := e.extractWithModel(ctx, line)
		if err == nil {
			return c, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Candidate{}, ctxErr
		}
	}

	c, ok := ParseLine(line)
	if !ok {
		return Candidate{}, fmt.Errorf("%w: no wine name in %q", internalerr.ErrExtraction, line)
	}
	return c, nil
}

func (e *Extractor) extractWithModel(ctx context.Context, line string) (Candidate, error) {
	out, err := e.completer.Complete(ctx, completion.Request{
		System:      systemPrompt,
		Prompt:      line,
		JSON:        true,
		MaxTokens:   300,
		Temperature: 0,
		Model:       e.model,
	})
	if err != nil {
		return Candidate{}, err
	}

	c, err := decodeCandidate(out)
	if err != nil {
		return Candidate{}, err
	}
	if c.Price == 0 {
		_, c.Price = stripPrice(line)
	}
	return c, nil
}

type modelCandidate struct {
	Producer    string     `json:"producer"`
	Name        string     `json:"name"`
	Vintage     flexString `json:"vintage"`
	Varietal    string     `json:"varietal"`
	Region      string     `json:"region"`
	Country     string     `json:"country"`
	Appellation string     `json:"appellation"`
	WineType    string     `json:"wine_type"`
	Style       string     `json:"style"`
	Price       flexNumber `json:"price"`
}

// decodeCandidate parses the model answer against the candidate schema.
func decodeCandidate(raw string) (Candidate, error) {
	dec := json.NewDecoder(strings.NewReader(completion.StripFences(raw)))
	dec.DisallowUnknownFields()

	var m modelCandidate
	if err := dec.Decode(&m); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate: %w", err)
	}
	c := Candidate{
		Producer:    clean(m.Producer),
		Name:        clean(m.Name),
		Vintage:     normalizeVintage(string(m.Vintage)),
		Varietal:    clean(m.Varietal),
		Region:      clean(m.Region),
		Country:     clean(m.Country),
		Appellation: clean(m.Appellation),
		WineType:    strings.ToLower(clean(m.WineType)),
		Style:       clean(m.Style),
		Price:       float64(m.Price),
		Method:      MethodModel,
	}
	if c.Name == "" {
		return Candidate{}, fmt.Errorf("decode candidate: empty name")
	}
	return c, nil
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("vintage: %w", err)
		}
		*f = flexString(n.String())
	}
	return nil
}

// flexNumber accepts a JSON number, numeric string or null.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(strings.TrimSpace(s), "$")
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		*f = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

func normalizeVintage(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(v, ".", ""), "/", "")) {
	case "", "0":
		return ""
	case "NV":
		return "NV"
	}
	if m := yearRe.FindString(v); m != "" {
		return m
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var headerWords = map[string]bool{
	"name": true, "wine": true, "producer": true, "vintage": true, "year": true,
	"region": true, "country": true, "price": true, "varietal": true, "grape": true,
}

var sectionHeaders = map[string]bool{
	"red": true, "reds": true, "red wine": true, "red wines": true,
	"white": true, "whites": true, "white wine": true, "white wines": true,
	"rose": true, "rose wine": true, "rose wines": true,
	"sparkling": true, "sparkling wine": true, "sparkling wines": true, "bubbles": true,
	"dessert": true, "dessert wine": true, "dessert wines": true, "sweet wines": true,
	"fortified": true, "fortified wines": true, "orange wines": true,
	"by the glass": true, "wines by the glass": true, "half bottles": true,
	"large format": true, "wine list": true, "our wines": true,
}

// reject returns a reason when the line is not worth extracting.
func (e *Extractor) reject(line string) string {
	if utf8.RuneCountInString(line) < e.minLen {
		return "line too short"
	}
	if strings.Trim(line, "-=_*~#. \t") == "" {
		return "separator line"
	}
	if strings.IndexFunc(line, unicode.IsLetter) < 0 {
		return "no letters"
	}

	folded := store.Fold(line)
	fields := strings.FieldsFunc(folded, func(r rune) bool { return r == ',' || r == '|' || r == '\t' })
	if len(fields) >= 2 {
		hits := 0
		for _, f := range fields {
			if headerWords[strings.TrimSpace(f)] {
				hits++
			}
		}
		if hits >= 2 {
			return "column header"
		}
	}

	section := strings.Trim(strings.Join(strings.Fields(folded), " "), ":-=*# ")
	if sectionHeaders[section] {
		return "section header"
	}
	return ""
}
