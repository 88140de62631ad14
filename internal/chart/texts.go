package chart

import (
	"fmt"

	"bazibot/internal/models"
)

type elementText struct {
	metaphor      string
	description   string
	traits        string
	monthlyAdvice string
	yearSummary   string
	strategy      string
}

var elementTexts = map[models.Element]elementText{
	models.Wood: {
		metaphor:      "a tree reaching for the light",
		description:   "You grow through ideas and people. You see potential long before others do and you need room to expand.",
		traits:        "Creativity, growth, leadership, innovation, flexibility",
		monthlyAdvice: "Focus on growth and development. This is a month for new beginnings and creative projects.",
		yearSummary:   "The year favours growth and innovation, with new openings in creative fields.",
		strategy:      "Plant several seeds at once and nurture the ones that take root. Protect your time for learning.",
	},
	models.Fire: {
		metaphor:      "a flame that lights up the room",
		description:   "You inspire and ignite. People are drawn to your warmth and energy, and you move fastest when you are visible.",
		traits:        "Energy, passion, leadership, ambition, motivation",
		monthlyAdvice: "Be active and visible. This is a month to put plans into motion and reach your goals.",
		yearSummary:   "The year brings energy and passion, a time for bold action and achievement.",
		strategy:      "Choose one stage and own it. Pace yourself so the fire lasts the whole year.",
	},
	models.Earth: {
		metaphor:      "a mountain others lean on",
		description:   "You hold things together. Reliability and care are your strengths, and people trust you with what matters.",
		traits:        "Stability, reliability, practicality, patience, care",
		monthlyAdvice: "Focus on stability and practical steps. This is a month to strengthen your foundations.",
		yearSummary:   "The year is steady and dependable, well suited to long-term planning.",
		strategy:      "Build systems that work without you. Say no to rescuing everyone else first.",
	},
	models.Metal: {
		metaphor:      "a blade that cuts to the essence",
		description:   "You bring clarity and structure. You value quality, keep your word, and see what is unnecessary.",
		traits:        "Structure, discipline, analysis, precision, organisation",
		monthlyAdvice: "Show discipline and keep things organised. This is a month for structure and planning.",
		yearSummary:   "The year is structured and focused, a time to reach goals and put things in order.",
		strategy:      "Cut what drains you and invest in a few high-value directions.",
	},
	models.Water: {
		metaphor:      "a river that always finds its way",
		description:   "You sense what others miss. Intuition and adaptability let you move around obstacles instead of through them.",
		traits:        "Wisdom, intuition, adaptability, depth, sensitivity",
		monthlyAdvice: "Trust your intuition. This is a month for deep analysis and strategic planning.",
		yearSummary:   "The year runs deep, a time for strategy and quiet preparation.",
		strategy:      "Follow the flow of opportunities but choose a direction. Write your insights down.",
	},
}

var polaritySuperpower = map[models.Polarity]string{
	models.Yang: "You act first and open doors for others.",
	models.Yin:  "You influence quietly and see the whole picture before acting.",
}

// DerivedText builds the named text sections for an element and polarity.
func DerivedText(element models.Element, polarity models.Polarity) map[string]string {
	t, ok := elementTexts[element]
	if !ok {
		t = elementTexts[models.Earth]
	}
	return map[string]string{
		models.SectionDescription:   fmt.Sprintf("%s %s, %s. %s", polarity, element, t.metaphor, t.description),
		models.SectionSuperpower:    fmt.Sprintf("Your superpower as %s %s: %s", polarity, element, polaritySuperpower[polarity]),
		models.SectionTraits:        t.traits,
		models.SectionMonthlyAdvice: t.monthlyAdvice,
		models.SectionYearSummary:   t.yearSummary,
		models.SectionStrategy:      t.strategy,
	}
}
