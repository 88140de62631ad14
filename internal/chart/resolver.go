// Package chart derives the BaZi personality element for a birth date,
// time and city.
package chart

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bazibot/internal/metrics"
	"bazibot/internal/models"
)

// Resolver produces a chart for birth data. It never fails: when the remote
// lookup cannot be used a fallback result is returned.
type Resolver interface {
	Resolve(ctx context.Context, birthDate, birthTime, birthCity string) models.ChartResult
}

// Config configures the remote lookup
type Config struct {
	URL     string
	Timeout time.Duration
	Enabled bool
	// Gender is sent in the lookup form; the calculator requires it
	Gender string
}

const (
	defaultTimeout = 10 * time.Second
	defaultGender  = "Жен"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// MingliResolver posts birth data to the mingli calculator and reads the
// day and year pillars from the returned page.
type MingliResolver struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewMingliResolver creates a resolver. A nil client uses http.DefaultClient.
func NewMingliResolver(cfg Config, client *http.Client, logger *zap.Logger, m *metrics.Metrics) *MingliResolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Gender == "" {
		cfg.Gender = defaultGender
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MingliResolver{cfg: cfg, client: client, logger: logger, metrics: m}
}

// Resolve implements Resolver
func (r *MingliResolver) Resolve(ctx context.Context, birthDate, birthTime, birthCity string) models.ChartResult {
	if r.cfg.Enabled && r.cfg.URL != "" {
		result, err := r.lookup(ctx, birthDate, birthTime, birthCity)
		if err == nil {
			r.metrics.ChartResolved(string(models.SourceLookup))
			return result
		}
		r.logger.Warn("Chart lookup failed, using fallback",
			zap.String("birth_date", birthDate),
			zap.Error(err))
	}
	r.metrics.ChartResolved(string(models.SourceFallback))
	return Fallback(birthDate, birthTime, birthCity)
}

func (r *MingliResolver) lookup(ctx context.Context, birthDate, birthTime, birthCity string) (models.ChartResult, error) {
	day, month, year, err := splitDate(birthDate)
	if err != nil {
		return models.ChartResult{}, err
	}
	hour, minute := splitTime(birthTime)

	form := url.Values{
		"name":   {""},
		"sex":    {r.cfg.Gender},
		"place":  {birthCity},
		"year":   {year},
		"month":  {month},
		"day":    {day},
		"hour":   {hour},
		"minute": {minute},
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.ChartResult{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := r.client.Do(req)
	r.metrics.LookupDuration(time.Since(start))
	if err != nil {
		return models.ChartResult{}, fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ChartResult{}, fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	p, err := extractPillars(resp.Body)
	if err != nil {
		return models.ChartResult{}, fmt.Errorf("parse lookup page: %w", err)
	}

	s := heavenlyStems[p.dayStem]
	var animal string
	if b, ok := earthlyBranches[p.yearBranch]; ok {
		animal = b.animal
	} else {
		y, _ := strconv.Atoi(year)
		animal = YearAnimal(y)
	}

	return models.ChartResult{
		Element:      s.element,
		Polarity:     s.polarity,
		AnimalOfYear: animal,
		DerivedText:  DerivedText(s.element, s.polarity),
		Source:       models.SourceLookup,
		BirthDate:    birthDate,
		BirthTime:    birthTime,
		BirthCity:    birthCity,
	}, nil
}

// Fallback computes a chart from the birth year alone. An unparsable date is
// treated as the cycle anchor year.
func Fallback(birthDate, birthTime, birthCity string) models.ChartResult {
	y := cycleAnchorYear
	if _, _, year, err := splitDate(birthDate); err == nil {
		if n, err := strconv.Atoi(year); err == nil {
			y = n
		}
	}
	element := FallbackElement(y)
	return models.ChartResult{
		Element:      element,
		Polarity:     models.Yin,
		AnimalOfYear: YearAnimal(y),
		DerivedText:  DerivedText(element, models.Yin),
		Source:       models.SourceFallback,
		BirthDate:    birthDate,
		BirthTime:    birthTime,
		BirthCity:    birthCity,
	}
}

func splitDate(date string) (day, month, year string, err error) {
	parts := strings.Split(date, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed birth date %q", date)
	}
	return parts[0], parts[1], parts[2], nil
}

func splitTime(t string) (hour, minute string) {
	h, m, ok := strings.Cut(t, ":")
	if !ok {
		return "12", "00"
	}
	return h, m
}
