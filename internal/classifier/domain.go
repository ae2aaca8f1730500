package classifier

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"basegraph.app/intake/internal/model"
)

const (
	signalWeight        = 0.2
	mixedBoost          = 0.2
	mixedCap            = 0.95
	noSignalsConfidence = 0.3
)

var personalCategories = []category{
	{name: model.SubCategoryFamily, patterns: []*regexp.Regexp{
		english(`family`, `wife`, `husband`, `kids?`, `son`, `daughter`, `mom`, `dad`, `parents?`),
		hebrew("משפחה", "אשתי", "בן הזוג", "בת הזוג", "ילדים", "הילד", "אמא", "אבא", "הורים"),
	}},
	{name: model.SubCategoryHealth, patterns: []*regexp.Regexp{
		english(`doctor`, `dentist`, `health`, `gym`, `workout`, `medication`, `therapy`, `sleep`),
		hebrew("רופא", "בריאות", "חדר כושר", "תרופות", "אימון", "פיזיותרפיה", "פסיכולוג", "שינה"),
	}},
	{name: model.SubCategoryHome, patterns: []*regexp.Regexp{
		english(`home`, `house`, `apartment`, `groceries`, `laundry`, `cleaning`, `rent`),
		hebrew("דירה", "קניות", "כביסה", "ניקיון", "שכירות", "מכולת"),
	}},
	{name: "leisure", patterns: []*regexp.Regexp{
		english(`vacation`, `birthday`, `friends?`, `hobby`, `movie`, `trip`),
		hebrew("חופשה", "יום הולדת", "חברים", "תחביב", "סרט", "טיול"),
	}},
}

var businessCategories = []category{
	{name: model.SubCategoryClient, patterns: []*regexp.Regexp{
		english(`clients?`, `customers?`, `projects?`, `proposal`, `deliverables?`),
		hebrew("לקוח", "פרויקט", "הצעת מחיר", "תוצר"),
	}},
	{name: model.SubCategoryFinance, patterns: []*regexp.Regexp{
		english(`invoices?`, `payments?`, `budget`, `revenue`, `taxes`, `accounting`, `pricing`),
		hebrew("חשבונית", "תשלום", "תקציב", "הכנסות", "מיסים", "רואה חשבון", "תמחור"),
	}},
	{name: model.SubCategoryProduct, patterns: []*regexp.Regexp{
		english(`product`, `features?`, `roadmap`, `release`, `launch`, `mvp`, `saas`, `startup`),
		hebrew("מוצר", "פיצ'ר", "השקה", "סטארטאפ", "גרסה"),
	}},
	{name: model.SubCategoryMeeting, patterns: []*regexp.Regexp{
		english(`meetings?`, `standup`, `deadline`, `team`, `colleagues?`, `manager`),
		hebrew("פגישה", "ישיבה", "דדליין", "צוות", "מנהל"),
	}},
	{name: "operations", patterns: []*regexp.Regexp{
		english(`business`, `company`, `contracts?`, `vendors?`, `hiring`, `marketing`, `sales`),
		hebrew("עסק", "חברה", "חוזה", "ספק", "גיוס", "שיווק", "מכירות"),
	}},
}

var mixedCategories = []category{
	{name: "work_life", patterns: []*regexp.Regexp{
		english(`work[- ]life`, `side project`, `freelanc\w*`, `home office`, `work from home`, `wfh`),
		hebrew("פרילנס", "עבודה מהבית", "פרויקט צד", "איזון"),
	}},
}

// DomainClassifier labels text as personal, business or mixed from pattern
// matches alone. It holds no mutable state and is safe for concurrent use.
type DomainClassifier struct {
	personal []category
	business []category
	mixed    []category
}

func NewDomainClassifier() *DomainClassifier {
	return &DomainClassifier{
		personal: personalCategories,
		business: businessCategories,
		mixed:    mixedCategories,
	}
}

// Classify scores each bucket as min(unique matches * 0.2, 1). Text with both
// personal and business signals is mixed at avg(personal, business) + 0.2,
// capped at 0.95. Otherwise the highest bucket wins, ties going to personal,
// then business. No signals at all gives personal at 0.3.
func (c *DomainClassifier) Classify(text string) model.DomainClassification {
	personal := matchCategories(text, c.personal)
	business := matchCategories(text, c.business)
	mixed := matchCategories(text, c.mixed)

	pSignals, bSignals, mSignals := unique(personal), unique(business), unique(mixed)
	pScore, bScore, mScore := bucketScore(pSignals), bucketScore(bSignals), bucketScore(mSignals)

	signals := append(append(append([]string{}, pSignals...), bSignals...), mSignals...)

	switch {
	case len(signals) == 0:
		return model.DomainClassification{
			Domain:     model.DomainPersonal,
			Confidence: noSignalsConfidence,
			Reasoning:  "no domain signals matched; defaulting to personal",
			Signals:    []string{},
			Method:     model.MethodRuleBased,
		}

	case len(pSignals) > 0 && len(bSignals) > 0:
		conf := math.Min((pScore+bScore)/2+mixedBoost, mixedCap)
		return model.DomainClassification{
			Domain:      model.DomainMixed,
			Confidence:  round2(conf),
			Reasoning:   fmt.Sprintf("personal signals (%s) and business signals (%s)", strings.Join(pSignals, ", "), strings.Join(bSignals, ", ")),
			SubCategory: strongest(append(append([]categoryMatch{}, business...), personal...)),
			Signals:     signals,
			Method:      model.MethodRuleBased,
		}
	}

	domain, score, cats := model.DomainPersonal, pScore, personal
	if bScore > score {
		domain, score, cats = model.DomainBusiness, bScore, business
	}
	if mScore > score {
		domain, score, cats = model.DomainMixed, mScore, mixed
	}

	return model.DomainClassification{
		Domain:      domain,
		Confidence:  round2(score),
		Reasoning:   fmt.Sprintf("matched %d %s signal(s): %s", len(unique(cats)), domain, strings.Join(unique(cats), ", ")),
		SubCategory: strongest(cats),
		Signals:     signals,
		Method:      model.MethodRuleBased,
	}
}

func bucketScore(signals []string) float64 {
	return math.Min(float64(len(signals))*signalWeight, 1.0)
}
