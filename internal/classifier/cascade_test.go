package classifier_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/intake/common/llm"
	"basegraph.app/intake/internal/classifier"
	"basegraph.app/intake/internal/model"
)

type fakeModel struct {
	name  string
	reply func(call int, req llm.Request) (classifier.ModelVerdict, error)

	mu    sync.Mutex
	calls []llm.Request
}

func (f *fakeModel) Chat(_ context.Context, req llm.Request, result any) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	v, err := f.reply(n, req)
	if err != nil {
		return nil, err
	}
	*result.(*classifier.ModelVerdict) = v
	return &llm.Response{}, nil
}

func (f *fakeModel) Model() string { return f.name }

func (f *fakeModel) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

func answer(domain string, confidence float64) func(int, llm.Request) (classifier.ModelVerdict, error) {
	return func(int, llm.Request) (classifier.ModelVerdict, error) {
		return classifier.ModelVerdict{Domain: domain, Confidence: confidence, Reasoning: "model says " + domain}, nil
	}
}

func failing(err error) func(int, llm.Request) (classifier.ModelVerdict, error) {
	return func(int, llm.Request) (classifier.ModelVerdict, error) {
		return classifier.ModelVerdict{}, err
	}
}

// "call mom" is personal at 0.2 with a communication task at 0.5, so the
// combined rule confidence (0.35) is below the escalation threshold.
const uncertainText = "call mom"

var _ = Describe("Cascade", func() {
	var (
		ctx      context.Context
		cfg      classifier.Config
		fewShots *classifier.FileFewShotStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = classifier.DefaultConfig()
		cfg.RetryBackoff = 0
		cfg.ModelTimeout = time.Second

		var err error
		fewShots, err = classifier.NewFileFewShotStore(filepath.Join(GinkgoT().TempDir(), "fewshot.json"), 10)
		Expect(err).NotTo(HaveOccurred())
	})

	registry := func(weak, strong llm.Client) *llm.Registry {
		clients := map[llm.Tier]llm.Client{}
		if weak != nil {
			clients[llm.TierWeak] = weak
		}
		if strong != nil {
			clients[llm.TierStrong] = strong
		}
		return llm.NewRegistry(clients)
	}

	It("classifies empty input as low-priority general", func() {
		c := classifier.New(cfg, nil, nil)
		got := c.Classify(ctx, "   ", "")
		Expect(got.Domain.Domain).To(Equal(model.DomainPersonal))
		Expect(got.Domain.Confidence).To(Equal(0.3))
		Expect(got.Priority).To(Equal(model.PriorityP4))
		Expect(got.RouteTo).To(Equal(model.RouteGeneral))
		Expect(got.Escalation.Reason).To(Equal(classifier.ReasonEmptyInput))
	})

	It("routes a hebrew side project to the architect", func() {
		c := classifier.New(cfg, nil, nil)
		got := c.Classify(ctx, "בניתי לעצמי סקריפט שמארגן לי את הקבצים", "")
		Expect(got.Product.Signals).To(ContainElement(classifier.SignalBuilt))
		Expect(got.Product.Score).To(BeNumerically(">=", 0.5))
		Expect(got.Product.HasPotential).To(BeTrue())
		Expect(got.RouteTo).To(Equal(model.RouteADRArchitect))
		Expect(got.Escalation.Reason).To(Equal(classifier.ReasonNoSignals))
	})

	It("routes a hebrew client invoice to the email assistant without a model", func() {
		weak := &fakeModel{name: "small", reply: answer("personal", 0.9)}
		c := classifier.New(cfg, registry(weak, nil), fewShots)

		got := c.Classify(ctx, "צריך לשלוח חשבונית ללקוח על הפרויקט", "")
		Expect(got.Domain.Domain).To(Equal(model.DomainBusiness))
		Expect(got.Domain.SubCategory).To(Equal(model.SubCategoryClient))
		Expect(got.RouteTo).To(Equal(model.RouteEmailAssistant))
		Expect(got.Priority).To(BeElementOf(model.PriorityP1, model.PriorityP2))
		Expect(got.Escalation.Escalated).To(BeFalse())
		Expect(got.Escalation.Reason).To(Equal(classifier.ReasonRuleConfident))
		Expect(weak.Calls()).To(BeEmpty())
	})

	It("does not escalate when the cascade is disabled", func() {
		cfg.EnableCascade = false
		weak := &fakeModel{name: "small", reply: answer("business", 0.9)}
		c := classifier.New(cfg, registry(weak, nil), nil)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainPersonal))
		Expect(got.Escalation).To(Equal(model.Escalation{
			Method: model.MethodRuleBased,
			Stage:  model.StageRule,
			Reason: classifier.ReasonCascadeDisabled,
		}))
		Expect(weak.Calls()).To(BeEmpty())
	})

	It("does not escalate without configured models", func() {
		c := classifier.New(cfg, llm.NewRegistry(nil), nil)
		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Escalation.Reason).To(Equal(classifier.ReasonNoModel))
		Expect(got.Escalation.Escalated).To(BeFalse())
	})

	It("stops at a confident weak model", func() {
		weak := &fakeModel{name: "small", reply: answer("business", 0.8)}
		strong := &fakeModel{name: "large", reply: answer("mixed", 0.9)}
		c := classifier.New(cfg, registry(weak, strong), fewShots)

		got := c.Classify(ctx, uncertainText, "type=message")
		Expect(got.Domain.Domain).To(Equal(model.DomainBusiness))
		Expect(got.Domain.Confidence).To(Equal(0.8))
		Expect(got.Domain.Method).To(Equal(model.MethodLLM))
		Expect(got.Escalation).To(Equal(model.Escalation{
			Method:    model.MethodLLM,
			Stage:     model.StageWeak,
			Escalated: true,
			Reason:    classifier.ReasonWeakConfident,
		}))
		Expect(got.Priority).To(Equal(model.PriorityP2))
		Expect(strong.Calls()).To(BeEmpty())
		Expect(weak.Calls()[0].UserPrompt).To(ContainSubstring("Context: type=message"))
	})

	It("escalates an uncertain weak answer and teaches the weak tier", func() {
		weak := &fakeModel{name: "small", reply: answer("business", 0.4)}
		strong := &fakeModel{name: "large", reply: answer("personal", 0.9)}
		c := classifier.New(cfg, registry(weak, strong), fewShots)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainPersonal))
		Expect(got.Domain.SubCategory).To(Equal(model.SubCategoryFamily))
		Expect(got.Escalation.Stage).To(Equal(model.StageStrong))
		Expect(got.Escalation.Reason).To(Equal(classifier.ReasonStrongModel))

		Expect(strong.Calls()).To(HaveLen(1))
		Expect(strong.Calls()[0].UserPrompt).To(ContainSubstring("domain=business with confidence 0.40"))

		examples, err := fewShots.Examples(ctx, model.DomainPersonal, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(examples).To(HaveLen(1))
		Expect(examples[0].Query).To(Equal(uncertainText))
		Expect(examples[0].Model).To(Equal("large"))
	})

	It("goes straight to the strong model when the weak one fails", func() {
		weak := &fakeModel{name: "small", reply: failing(llm.ErrNoJSON)}
		strong := &fakeModel{name: "large", reply: answer("mixed", 0.7)}
		c := classifier.New(cfg, registry(weak, strong), nil)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainMixed))
		Expect(got.Escalation.Method).To(Equal(model.MethodLLM))
		Expect(got.Escalation.Stage).To(Equal(model.StageStrong))
		Expect(weak.Calls()).To(HaveLen(1))
		Expect(strong.Calls()[0].UserPrompt).To(ContainSubstring("domain=personal"))
	})

	It("uses the strong model alone when no weak tier exists", func() {
		strong := &fakeModel{name: "large", reply: answer("business", 0.9)}
		c := classifier.New(cfg, registry(nil, strong), nil)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainBusiness))
		Expect(got.Escalation.Stage).To(Equal(model.StageStrong))
	})

	It("keeps the weak answer when the strong model fails", func() {
		weak := &fakeModel{name: "small", reply: answer("business", 0.4)}
		strong := &fakeModel{name: "large", reply: failing(llm.ErrEmptyResponse)}
		c := classifier.New(cfg, registry(weak, strong), fewShots)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainBusiness))
		Expect(got.Escalation.Stage).To(Equal(model.StageWeak))
		Expect(got.Escalation.Reason).To(Equal(classifier.ReasonStrongModelFailed))

		examples, err := fewShots.Examples(ctx, model.DomainBusiness, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(examples).To(BeEmpty())
	})

	It("falls back to the rule result when every model fails", func() {
		weak := &fakeModel{name: "small", reply: failing(llm.ErrNoJSON)}
		strong := &fakeModel{name: "large", reply: answer("unknown", 0.9)}
		c := classifier.New(cfg, registry(weak, strong), nil)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainPersonal))
		Expect(got.Domain.Method).To(Equal(model.MethodRuleBased))
		Expect(got.Escalation).To(Equal(model.Escalation{
			Method:    model.MethodLLMFallback,
			Stage:     model.StageRule,
			Escalated: true,
			Reason:    classifier.ReasonAllModelsFailed,
		}))
	})

	It("retries transient model errors", func() {
		weak := &fakeModel{name: "small", reply: func(call int, _ llm.Request) (classifier.ModelVerdict, error) {
			if call == 1 {
				return classifier.ModelVerdict{}, errors.New("connection reset by peer")
			}
			return classifier.ModelVerdict{Domain: "business", Confidence: 0.9}, nil
		}}
		c := classifier.New(cfg, registry(weak, nil), nil)

		got := c.Classify(ctx, uncertainText, "")
		Expect(got.Domain.Domain).To(Equal(model.DomainBusiness))
		Expect(weak.Calls()).To(HaveLen(2))
	})

	It("puts the newest few-shot examples for the rule domain in the weak prompt", func() {
		for _, q := range []string{"oldest example", "middle example", "newest example"} {
			Expect(fewShots.Add(ctx, model.FewShotExample{Query: q, Domain: model.DomainPersonal, Confidence: 0.9})).To(Succeed())
		}
		Expect(fewShots.Add(ctx, model.FewShotExample{Query: "business example", Domain: model.DomainBusiness})).To(Succeed())

		weak := &fakeModel{name: "small", reply: answer("personal", 0.9)}
		c := classifier.New(cfg, registry(weak, nil), fewShots)
		c.Classify(ctx, uncertainText, "")

		prompt := weak.Calls()[0].UserPrompt
		Expect(prompt).To(ContainSubstring("newest example"))
		Expect(prompt).To(ContainSubstring("middle example"))
		Expect(prompt).NotTo(ContainSubstring("oldest example"))
		Expect(prompt).NotTo(ContainSubstring("business example"))
	})

	It("writes the result onto the event", func() {
		c := classifier.New(cfg, nil, nil)
		event := &model.IntakeEvent{
			ID:          "evt-1",
			Type:        model.EventTypeMessage,
			ContentType: model.ContentTypeText,
			Content:     "צריך לשלוח חשבונית ללקוח על הפרויקט",
		}

		result := c.ClassifyEvent(ctx, event)
		Expect(event.Domain).To(Equal(model.DomainBusiness))
		Expect(event.Category).To(Equal(model.SubCategoryClient))
		Expect(event.RoutedTo).To(Equal(result.RouteTo))
		Expect(event.Priority).To(Equal(result.Priority))
		Expect(event.Classified()).To(BeTrue())
		Expect(event.Processed).To(BeFalse())
	})
})
