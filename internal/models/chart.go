package models

import (
	"encoding/json"
	"fmt"
)

// Element is one of the five BaZi elements
type Element string

const (
	Wood  Element = "Wood"
	Fire  Element = "Fire"
	Earth Element = "Earth"
	Metal Element = "Metal"
	Water Element = "Water"
)

// Polarity pairs with an element
type Polarity string

const (
	Yang Polarity = "Yang"
	Yin  Polarity = "Yin"
)

// ChartSource tells where a chart result came from
type ChartSource string

const (
	SourceLookup   ChartSource = "lookup"
	SourceFallback ChartSource = "fallback"
)

// Derived text section names
const (
	SectionDescription   = "description"
	SectionSuperpower    = "superpower"
	SectionTraits        = "traits"
	SectionMonthlyAdvice = "monthly_advice"
	SectionYearSummary   = "year_summary"
	SectionStrategy      = "strategy"
)

// ChartResult is the personality element derived from birth data
type ChartResult struct {
	Element      Element           `json:"element"`
	Polarity     Polarity          `json:"polarity"`
	AnimalOfYear string            `json:"animal_of_year"`
	DerivedText  map[string]string `json:"derived_text,omitempty"`
	Source       ChartSource       `json:"source"`
	BirthDate    string            `json:"birth_date"`
	BirthTime    string            `json:"birth_time"`
	BirthCity    string            `json:"birth_city"`
}

// Key returns the "Element_Polarity" key used to pick per-type media.
func (c ChartResult) Key() string {
	return string(c.Element) + "_" + string(c.Polarity)
}

// ParseElement validates an element name.
func ParseElement(s string) (Element, error) {
	switch e := Element(s); e {
	case Wood, Fire, Earth, Metal, Water:
		return e, nil
	}
	return "", fmt.Errorf("unknown element %q", s)
}

// ParsePolarity validates a polarity name.
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(s); p {
	case Yang, Yin:
		return p, nil
	}
	return "", fmt.Errorf("unknown polarity %q", s)
}

// MarshalChart encodes a chart for storage.
func MarshalChart(c ChartResult) ([]byte, error) {
	return json.Marshal(c)
}

// ParseChart decodes and validates a stored chart.
func ParseChart(data []byte) (*ChartResult, error) {
	var c ChartResult
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	if _, err := ParseElement(string(c.Element)); err != nil {
		return nil, err
	}
	if _, err := ParsePolarity(string(c.Polarity)); err != nil {
		return nil, err
	}
	if c.AnimalOfYear == "" {
		return nil, fmt.Errorf("chart has no animal of year")
	}
	return &c, nil
}
