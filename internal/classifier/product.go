package classifier

import (
	"math"
	"regexp"

	"basegraph.app/intake/internal/model"
)

// Product signal categories, in the order they are reported.
const (
	SignalWish        = "wish"
	SignalBuilt       = "built"
	SignalFrustration = "frustration"
	SignalAutomation  = "automation"
)

const (
	productBase         = 0.5
	productPerMatch     = 0.15
	productPerCategory  = 0.15
	productCategoryCap  = 0.30
	potentialThreshold  = 0.25
	marketLargeMinCats  = 3
	marketMediumMinCats = 2
)

type productCategory struct {
	category
	weight          float64
	suggestedTypes  []string
	validationSteps []string
}

var productCategories = []productCategory{
	{
		category: category{name: SignalWish, patterns: []*regexp.Regexp{
			english(`i wish`, `wish there was`, `would be nice if`, `someone should build`, `if only there was`, `why isn't there`),
			hebrew("הלוואי", "הייתי רוצה", "מישהו צריך לבנות", "למה אין", "חבל שאין"),
		}},
		weight:          0.6,
		suggestedTypes:  []string{"saas", "mobile_app"},
		validationSteps: []string{"search for existing solutions", "ask five people who share the problem whether they would pay"},
	},
	{
		category: category{name: SignalBuilt, patterns: []*regexp.Regexp{
			english(`i built`, `i made`, `i wrote`, `i created`, `i've built`, `built a`, `my own (?:tool|script|app)`),
			hebrew("בניתי", "כתבתי", "יצרתי", "פיתחתי", "לעצמי"),
		}},
		weight:          0.7,
		suggestedTypes:  []string{"open_source_tool", "template", "internal_tool"},
		validationSteps: []string{"write down who else has this workflow", "publish it and measure adoption"},
	},
	{
		category: category{name: SignalFrustration, patterns: []*regexp.Regexp{
			english(`annoying`, `frustrat\w*`, `hate (?:it )?when`, `waste of time`, `so tedious`, `pain in the`),
			hebrew("מעצבן", "מתסכל", "שונא", "בזבוז זמן", "נמאס"),
		}},
		weight:          0.5,
		suggestedTypes:  []string{"saas", "service"},
		validationSteps: []string{"count how often the frustration recurs", "estimate the time lost per week"},
	},
	{
		category: category{name: SignalAutomation, patterns: []*regexp.Regexp{
			english(`automat\w*`, `scripts?`, `bots?`, `workflows?`, `every (?:day|week|time) i`, `manually`, `repetitive`),
			hebrew("אוטומט", "סקריפט", "בוט", "מארגן", "ידני", "כל פעם ש", "כל יום"),
		}},
		weight:          0.5,
		suggestedTypes:  []string{"automation_tool", "integration"},
		validationSteps: []string{"map the manual steps", "check whether an off-the-shelf integration covers it"},
	},
}

// ProductDetector scores how strongly text hints at something worth building.
// It is pure and safe for concurrent use.
type ProductDetector struct {
	categories []productCategory
}

func NewProductDetector() *ProductDetector {
	return &ProductDetector{categories: productCategories}
}

// Detect gives each active category 0.5 + 0.15 per extra distinct match
// (capped at 1) times its weight. The score is the best weighted category
// plus 0.15 per additional active category, at most +0.30, capped at 1.
func (d *ProductDetector) Detect(text string) model.ProductPotential {
	out := model.ProductPotential{
		Signals:         []string{},
		MatchedPatterns: []string{},
		SuggestedTypes:  []string{},
		ValidationSteps: []string{},
		MarketSize:      "none",
	}

	best := 0.0
	active := 0
	seenType := map[string]bool{}
	for _, c := range d.categories {
		matches := c.match(text)
		if len(matches) == 0 {
			continue
		}
		active++
		out.Signals = append(out.Signals, c.name)
		out.MatchedPatterns = append(out.MatchedPatterns, matches...)
		out.ValidationSteps = append(out.ValidationSteps, c.validationSteps...)
		for _, t := range c.suggestedTypes {
			if !seenType[t] {
				seenType[t] = true
				out.SuggestedTypes = append(out.SuggestedTypes, t)
			}
		}

		raw := math.Min(productBase+productPerMatch*float64(len(matches)-1), 1.0)
		best = math.Max(best, raw*c.weight)
	}

	if active == 0 {
		return out
	}

	boost := math.Min(productPerCategory*float64(active-1), productCategoryCap)
	out.Score = round2(math.Min(best+boost, 1.0))
	out.HasPotential = out.Score >= potentialThreshold

	switch {
	case active >= marketLargeMinCats:
		out.MarketSize = "large"
	case active >= marketMediumMinCats:
		out.MarketSize = "medium"
	default:
		out.MarketSize = "niche"
	}
	return out
}
