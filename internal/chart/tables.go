package chart

import "bazibot/internal/models"

type stem struct {
	element  models.Element
	polarity models.Polarity
}

type branch struct {
	animal  string
	element models.Element
}

// heavenlyStems maps the day-pillar stem to the personality element
var heavenlyStems = map[rune]stem{
	'甲': {models.Wood, models.Yang},
	'乙': {models.Wood, models.Yin},
	'丙': {models.Fire, models.Yang},
	'丁': {models.Fire, models.Yin},
	'戊': {models.Earth, models.Yang},
	'己': {models.Earth, models.Yin},
	'庚': {models.Metal, models.Yang},
	'辛': {models.Metal, models.Yin},
	'壬': {models.Water, models.Yang},
	'癸': {models.Water, models.Yin},
}

// earthlyBranches maps the year-pillar branch to its animal
var earthlyBranches = map[rune]branch{
	'子': {"Rat", models.Water},
	'丑': {"Ox", models.Earth},
	'寅': {"Tiger", models.Wood},
	'卯': {"Rabbit", models.Wood},
	'辰': {"Dragon", models.Earth},
	'巳': {"Snake", models.Fire},
	'午': {"Horse", models.Fire},
	'未': {"Goat", models.Earth},
	'申': {"Monkey", models.Metal},
	'酉': {"Rooster", models.Metal},
	'戌': {"Dog", models.Earth},
	'亥': {"Pig", models.Water},
}

// animals is the twelve-year cycle anchored at 1900 = Rat
var animals = [12]string{
	"Rat", "Ox", "Tiger", "Rabbit", "Dragon", "Snake",
	"Horse", "Goat", "Monkey", "Rooster", "Dog", "Pig",
}

// elementByYearDigit is indexed by year % 10
var elementByYearDigit = [10]models.Element{
	models.Metal, models.Metal,
	models.Water, models.Water,
	models.Wood, models.Wood,
	models.Fire, models.Fire,
	models.Earth, models.Earth,
}

const cycleAnchorYear = 1900

// YearAnimal returns the animal of the given year's cycle position.
func YearAnimal(year int) string {
	idx := (year - cycleAnchorYear) % len(animals)
	if idx < 0 {
		idx += len(animals)
	}
	return animals[idx]
}

// FallbackElement returns the element assigned to a birth year when the
// lookup service cannot be used.
func FallbackElement(year int) models.Element {
	idx := year % len(elementByYearDigit)
	if idx < 0 {
		idx += len(elementByYearDigit)
	}
	return elementByYearDigit[idx]
}
