package chart

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bazibot/internal/models"
)

const pillarTablePage = `<html><body>
<h2>Карта БаЦзы</h2>
<table class="bazi">
  <tr><th>ЧАС</th><th>ДЕНЬ</th><th>МЕСЯЦ</th><th>ГОД</th></tr>
  <tr><td>丁 Инь Огонь</td><td>庚 Ян Металл</td><td>己 Инь Земля</td><td>庚 Ян Металл</td></tr>
  <tr><td>未</td><td>辰</td><td>卯</td><td>午</td></tr>
</table>
</body></html>`

func newTestResolver(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*MingliResolver, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	r := NewMingliResolver(Config{URL: server.URL, Timeout: timeout, Enabled: true}, server.Client(), zap.NewNop(), nil)
	return r, &calls
}

func TestMingliResolver_LookupSuccess(t *testing.T) {
	var form map[string]string
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		form = map[string]string{}
		for k := range req.PostForm {
			form[k] = req.PostForm.Get(k)
		}
		fmt.Fprint(w, pillarTablePage)
	}, time.Second)

	result := r.Resolve(context.Background(), "15.03.1990", "14:30", "Paris")

	assert.Equal(t, models.SourceLookup, result.Source)
	assert.Equal(t, models.Metal, result.Element)
	assert.Equal(t, models.Yang, result.Polarity)
	assert.Equal(t, "Horse", result.AnimalOfYear)
	assert.Equal(t, "Paris", result.BirthCity)
	assert.NotEmpty(t, result.DerivedText[models.SectionDescription])

	assert.Equal(t, map[string]string{
		"name": "", "sex": defaultGender, "place": "Paris",
		"year": "1990", "month": "03", "day": "15", "hour": "14", "minute": "30",
	}, form)
}

func TestMingliResolver_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			timeout: time.Second,
		},
		{
			name: "no pillars on page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html><body>Сервис временно недоступен</body></html>")
			},
			timeout: time.Second,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(2 * time.Second):
				case <-r.Context().Done():
				}
			},
			timeout: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver(t, tt.handler, tt.timeout)
			result := r.Resolve(context.Background(), "15.03.1990", "14:30", "Paris")

			assert.Equal(t, models.SourceFallback, result.Source)
			assert.Equal(t, models.Metal, result.Element)
			assert.Equal(t, models.Yin, result.Polarity)
			assert.Equal(t, "Horse", result.AnimalOfYear)
		})
	}
}

func TestMingliResolver_DisabledSkipsLookup(t *testing.T) {
	r, calls := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, pillarTablePage)
	}, time.Second)
	r.cfg.Enabled = false

	result := r.Resolve(context.Background(), "01.01.2000", "12:00", "Rome")
	assert.Equal(t, models.SourceFallback, result.Source)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestMingliResolver_MissingBranchUsesYearCycle(t *testing.T) {
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `<table><tr><td>ДЕНЬ</td><td>ГОД</td></tr><tr><td>壬</td><td>?</td></tr></table>`)
	}, time.Second)

	result := r.Resolve(context.Background(), "10.10.1984", "08:00", "Oslo")
	assert.Equal(t, models.SourceLookup, result.Source)
	assert.Equal(t, models.Water, result.Element)
	assert.Equal(t, models.Yang, result.Polarity)
	assert.Equal(t, "Rat", result.AnimalOfYear)
}

func TestFallback_ElementTable(t *testing.T) {
	want := map[int]models.Element{
		0: models.Metal, 1: models.Metal,
		2: models.Water, 3: models.Water,
		4: models.Wood, 5: models.Wood,
		6: models.Fire, 7: models.Fire,
		8: models.Earth, 9: models.Earth,
	}
	for digit, element := range want {
		year := 1990 + digit
		result := Fallback(fmt.Sprintf("01.01.%d", year), "12:00", "X")
		assert.Equal(t, element, result.Element, "year %d", year)
		assert.Equal(t, models.Yin, result.Polarity)
		assert.Equal(t, models.SourceFallback, result.Source)
	}
}

func TestYearAnimal(t *testing.T) {
	tests := []struct {
		year   int
		animal string
	}{
		{1900, "Rat"},
		{1901, "Ox"},
		{1911, "Pig"},
		{1912, "Rat"},
		{1990, "Horse"},
		{2000, "Dragon"},
		{2024, "Dragon"},
		{2100, "Monkey"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.animal, YearAnimal(tt.year), "year %d", tt.year)
	}
}

func TestFallback_MalformedDate(t *testing.T) {
	result := Fallback("not a date", "", "")
	assert.Equal(t, models.Metal, result.Element)
	assert.Equal(t, "Rat", result.AnimalOfYear)
}

func TestDerivedText_AllSections(t *testing.T) {
	sections := []string{
		models.SectionDescription, models.SectionSuperpower, models.SectionTraits,
		models.SectionMonthlyAdvice, models.SectionYearSummary, models.SectionStrategy,
	}
	for _, element := range []models.Element{models.Wood, models.Fire, models.Earth, models.Metal, models.Water} {
		for _, polarity := range []models.Polarity{models.Yang, models.Yin} {
			text := DerivedText(element, polarity)
			for _, s := range sections {
				assert.NotEmpty(t, text[s], "%s %s %s", element, polarity, s)
			}
			assert.Contains(t, text[models.SectionDescription], string(element))
		}
	}
}
