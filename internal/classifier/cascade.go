package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/intake/common/llm"
	"basegraph.app/intake/common/logger"
	"basegraph.app/intake/internal/model"
)

// Escalation reasons recorded on every result.
const (
	ReasonEmptyInput         = "empty_input"
	ReasonNoSignals          = "no_signals"
	ReasonRuleConfident      = "rule_confident"
	ReasonCascadeDisabled    = "cascade_disabled"
	ReasonNoModel            = "no_model_configured"
	ReasonWeakConfident      = "weak_model_confident"
	ReasonWeakUncertain      = "weak_model_uncertain"
	ReasonStrongModel        = "strong_model"
	ReasonStrongModelFailed  = "strong_model_failed"
	ReasonAllModelsFailed    = "model_failed"
	defaultModelAttempts     = 2
	defaultPromptExamples    = 2
	defaultRuleThreshold     = 0.5
	defaultWeakThreshold     = 0.6
	defaultRetryBackoff      = 500 * time.Millisecond
	defaultModelCallDeadline = 30 * time.Second
)

type Config struct {
	EnableCascade  bool
	RuleThreshold  float64       // escalate when combined rule confidence is below this
	WeakThreshold  float64       // escalate to the strong tier when the weak model is below this
	PromptExamples int           // few-shot examples injected into weak-model prompts
	ModelTimeout   time.Duration // per model call
	ModelAttempts  int
	RetryBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnableCascade:  true,
		RuleThreshold:  defaultRuleThreshold,
		WeakThreshold:  defaultWeakThreshold,
		PromptExamples: defaultPromptExamples,
		ModelTimeout:   defaultModelCallDeadline,
		ModelAttempts:  defaultModelAttempts,
		RetryBackoff:   defaultRetryBackoff,
	}
}

// Cascade runs the rule classifiers and escalates to progressively more
// expensive model tiers only while confidence stays low. Strong-model answers
// are kept as few-shot examples for the weak tier. Classification never fails:
// model errors leave the best earlier result in place.
type Cascade struct {
	domain   *DomainClassifier
	product  *ProductDetector
	task     *TaskClassifier
	models   *llm.Registry
	fewShots FewShotStore
	cfg      Config
}

// New builds a cascade. models and fewShots may be nil, which disables
// escalation and teaching respectively.
func New(cfg Config, models *llm.Registry, fewShots FewShotStore) *Cascade {
	if cfg.ModelAttempts <= 0 {
		cfg.ModelAttempts = 1
	}
	if cfg.PromptExamples < 0 {
		cfg.PromptExamples = 0
	}
	return &Cascade{
		domain:   NewDomainClassifier(),
		product:  NewProductDetector(),
		task:     NewTaskClassifier(),
		models:   models,
		fewShots: fewShots,
		cfg:      cfg,
	}
}

// Classify returns the cheapest classification of text that meets the
// confidence bar. extra is optional context (sender, subject) shown to models.
func (c *Cascade) Classify(ctx context.Context, text, extra string) *model.IntakeClassificationResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyResult()
	}

	domain := c.domain.Classify(text)
	product := c.product.Detect(text)
	task := c.task.Classify(text)

	combined := (domain.Confidence + task.Confidence) / 2
	esc := model.Escalation{Method: model.MethodRuleBased, Stage: model.StageRule}

	switch {
	case combined >= c.cfg.RuleThreshold:
		esc.Reason = ReasonRuleConfident
	case !c.cfg.EnableCascade:
		esc.Reason = ReasonCascadeDisabled
	case c.models.Empty():
		esc.Reason = ReasonNoModel
	default:
		domain, esc = c.escalate(ctx, text, extra, domain)
	}

	if !esc.Escalated && len(domain.Signals) == 0 {
		esc.Reason = ReasonNoSignals
	}

	result := &model.IntakeClassificationResult{
		Domain:             domain,
		Product:            product,
		Task:               task,
		Priority:           DerivePriority(product, domain),
		RouteTo:            DeriveRoute(product, domain, task),
		CombinedConfidence: round2((domain.Confidence + task.Confidence) / 2),
		Escalation:         esc,
	}

	slog.DebugContext(ctx, "classified input",
		"domain", result.Domain.Domain,
		"confidence", result.Domain.Confidence,
		"priority", result.Priority,
		"route", result.RouteTo,
		"stage", esc.Stage,
		"reason", esc.Reason)

	return result
}

// ClassifyEvent classifies event and writes the result onto its classification fields.
func (c *Cascade) ClassifyEvent(ctx context.Context, event *model.IntakeEvent) *model.IntakeClassificationResult {
	result := c.Classify(ctx, ClassificationText(event), eventContext(event))
	event.ApplyClassification(result)
	return result
}

func (c *Cascade) escalate(ctx context.Context, text, extra string, rule model.DomainClassification) (model.DomainClassification, model.Escalation) {
	esc := model.Escalation{
		Method:    model.MethodLLMFallback,
		Stage:     model.StageRule,
		Escalated: true,
		Reason:    ReasonAllModelsFailed,
	}
	best := rule

	var weak *model.DomainClassification
	if client, err := c.models.Get(llm.TierWeak); err == nil {
		examples := c.examples(ctx, rule.Domain)
		weak = c.ask(ctx, client, model.StageWeak, buildWeakPrompt(text, extra, examples), rule)
		if weak != nil {
			best = *weak
			esc.Method, esc.Stage = model.MethodLLM, model.StageWeak
			if weak.Confidence >= c.cfg.WeakThreshold {
				esc.Reason = ReasonWeakConfident
				return best, esc
			}
			esc.Reason = ReasonWeakUncertain
		}
	}

	client, err := c.models.Get(llm.TierStrong)
	if err != nil {
		return best, esc
	}

	strong := c.ask(ctx, client, model.StageStrong, buildStrongPrompt(text, extra, best), rule)
	if strong == nil {
		if weak != nil {
			esc.Reason = ReasonStrongModelFailed
		}
		return best, esc
	}

	c.teach(ctx, text, *strong, client.Model())

	esc.Method, esc.Stage, esc.Reason = model.MethodLLM, model.StageStrong, ReasonStrongModel
	return *strong, esc
}

// ask returns nil when the call fails or the reply is unusable.
func (c *Cascade) ask(ctx context.Context, client llm.Client, stage model.CascadeStage, prompt string, rule model.DomainClassification) *model.DomainClassification {
	span := logger.StartSpan(ctx, "classifier.cascade."+string(stage))
	defer span.End()
	ctx = span.Context()
	span.SetAttributes(
		attribute.String("llm.model", client.Model()),
		attribute.String("classifier.prompt_version", domainPromptVersion),
	)

	if c.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ModelTimeout)
		defer cancel()
	}

	var (
		verdict ModelVerdict
		err     error
	)
	start := time.Now()
	for attempt := 0; attempt < c.cfg.ModelAttempts; attempt++ {
		verdict = ModelVerdict{}
		_, err = client.Chat(ctx, llm.Request{
			SystemPrompt: domainSystemPrompt,
			UserPrompt:   prompt,
			SchemaName:   "domain_classification",
			Schema:       verdictSchema,
			Temperature:  llm.Temp(0),
		}, &verdict)
		if err == nil || !llm.IsRetryable(ctx, err) || attempt == c.cfg.ModelAttempts-1 {
			break
		}
		if !sleepCtx(ctx, c.cfg.RetryBackoff*time.Duration(1<<attempt)) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "model classification failed, keeping earlier result",
			"stage", stage,
			"model", client.Model(),
			"error", err)
		return nil
	}

	domain, err := model.ParseDomain(verdict.Domain)
	if err != nil {
		span.RecordError(err)
		slog.WarnContext(ctx, "model returned unknown domain, keeping earlier result",
			"stage", stage,
			"model", client.Model(),
			"domain", verdict.Domain)
		return nil
	}

	sub := strings.ToLower(strings.TrimSpace(verdict.Category))
	if sub == "" && domain == rule.Domain {
		sub = rule.SubCategory
	}

	slog.InfoContext(ctx, "model classification completed",
		"stage", stage,
		"model", client.Model(),
		"domain", domain,
		"confidence", verdict.Confidence,
		"duration_ms", time.Since(start).Milliseconds())

	return &model.DomainClassification{
		Domain:      domain,
		Confidence:  round2(clamp01(verdict.Confidence)),
		Reasoning:   verdict.Reasoning,
		SubCategory: sub,
		Signals:     rule.Signals,
		Method:      model.MethodLLM,
	}
}

func (c *Cascade) examples(ctx context.Context, domain model.Domain) []model.FewShotExample {
	if c.fewShots == nil || c.cfg.PromptExamples == 0 {
		return nil
	}
	examples, err := c.fewShots.Examples(ctx, domain, c.cfg.PromptExamples)
	if err != nil {
		slog.WarnContext(ctx, "loading few-shot examples failed", "error", err, "domain", domain)
		return nil
	}
	return examples
}

func (c *Cascade) teach(ctx context.Context, text string, result model.DomainClassification, modelName string) {
	if c.fewShots == nil {
		return
	}
	err := c.fewShots.Add(ctx, model.FewShotExample{
		Query:      text,
		Domain:     result.Domain,
		Confidence: result.Confidence,
		Reasoning:  result.Reasoning,
		Category:   result.SubCategory,
		Model:      modelName,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		slog.WarnContext(ctx, "storing few-shot example failed", "error", err, "domain", result.Domain)
	}
}

func emptyResult() *model.IntakeClassificationResult {
	return &model.IntakeClassificationResult{
		Domain: model.DomainClassification{
			Domain:     model.DomainPersonal,
			Confidence: noSignalsConfidence,
			Reasoning:  "empty input",
			Signals:    []string{},
			Method:     model.MethodRuleBased,
		},
		Product: model.ProductPotential{
			Signals:         []string{},
			MatchedPatterns: []string{},
			SuggestedTypes:  []string{},
			ValidationSteps: []string{},
			MarketSize:      "none",
		},
		Task: model.TaskClassification{
			TaskType:   model.TaskTypeGeneral,
			Confidence: taskNoneConfidence,
			Signals:    []string{},
		},
		Priority:           model.PriorityP4,
		RouteTo:            model.RouteGeneral,
		CombinedConfidence: noSignalsConfidence,
		Escalation: model.Escalation{
			Method: model.MethodRuleBased,
			Stage:  model.StageRule,
			Reason: ReasonEmptyInput,
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
