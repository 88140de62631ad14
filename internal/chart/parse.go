package chart

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var errNoDayStem = errors.New("day pillar stem not found")

var (
	dayHeaders  = []string{"ДЕНЬ", "DAY"}
	yearHeaders = []string{"ГОД", "YEAR"}

	dayTextPattern  = regexp.MustCompile(`(?is)(?:ДЕНЬ|DAY).*?([甲乙丙丁戊己庚辛壬癸])`)
	yearTextPattern = regexp.MustCompile(`(?is)(?:ГОД|YEAR).*?([子丑寅卯辰巳午未申酉戌亥])`)
)

// pillars holds the characters read from a calculator page. A zero rune
// means the character was not found.
type pillars struct {
	dayStem    rune
	yearBranch rune
}

// extractPillars reads the day stem and year branch from the calculator HTML.
// The pillar table is located by its column headers; when no such table
// exists the page text is scanned instead.
func extractPillars(r io.Reader) (pillars, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return pillars{}, err
	}

	var p pillars
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		found := fromTable(table)
		if found.dayStem != 0 {
			p = found
			return false
		}
		return true
	})

	if p.dayStem == 0 || p.yearBranch == 0 {
		text := doc.Text()
		if p.dayStem == 0 {
			p.dayStem = firstMatch(dayTextPattern, text)
		}
		if p.yearBranch == 0 {
			p.yearBranch = firstMatch(yearTextPattern, text)
		}
	}

	if _, ok := heavenlyStems[p.dayStem]; !ok {
		return pillars{}, errNoDayStem
	}
	if _, ok := earthlyBranches[p.yearBranch]; !ok {
		p.yearBranch = 0
	}
	return p, nil
}

func fromTable(table *goquery.Selection) pillars {
	var p pillars
	dayCol, yearCol := -1, -1

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if dayCol < 0 {
			cells.Each(func(i int, cell *goquery.Selection) {
				label := strings.ToUpper(strings.TrimSpace(cell.Text()))
				if hasAny(label, dayHeaders) {
					dayCol = i
				}
				if hasAny(label, yearHeaders) {
					yearCol = i
				}
			})
			return
		}
		if p.dayStem == 0 && dayCol < cells.Length() {
			p.dayStem = firstIn(cells.Eq(dayCol).Text(), isStem)
		}
		if p.yearBranch == 0 && yearCol >= 0 && yearCol < cells.Length() {
			p.yearBranch = firstIn(cells.Eq(yearCol).Text(), isBranch)
		}
	})
	return p
}

func hasAny(label string, words []string) bool {
	for _, w := range words {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}

func isStem(r rune) bool {
	_, ok := heavenlyStems[r]
	return ok
}

func isBranch(r rune) bool {
	_, ok := earthlyBranches[r]
	return ok
}

func firstIn(s string, match func(rune) bool) rune {
	for _, r := range s {
		if match(r) {
			return r
		}
	}
	return 0
}

func firstMatch(re *regexp.Regexp, text string) rune {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	for _, r := range m[1] {
		return r
	}
	return 0
}
