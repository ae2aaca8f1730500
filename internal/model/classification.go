package model

import (
	"fmt"
	"strings"
	"time"
)

type Domain string

const (
	DomainPersonal Domain = "personal"
	DomainBusiness Domain = "business"
	DomainMixed    Domain = "mixed"
)

// ParseDomain accepts the canonical lower-case value in any case, so model
// output such as "BUSINESS" parses.
func ParseDomain(raw string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DomainPersonal, DomainBusiness, DomainMixed:
		return d, nil
	default:
		return "", fmt.Errorf("%w: domain %q", ErrUnknownValue, raw)
	}
}

type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return p, nil
	default:
		return "", fmt.Errorf("%w: priority %q", ErrUnknownValue, raw)
	}
}

// Route is the downstream consumer a classified event is handed to.
type Route string

const (
	RouteADRArchitect      Route = "adr-architect"
	RouteEmailAssistant    Route = "email-assistant"
	RouteResearchIngestion Route = "research-ingestion"
	RouteGeneral           Route = "general"
)

func ParseRoute(raw string) (Route, error) {
	r := Route(raw)
	switch r {
	case RouteADRArchitect, RouteEmailAssistant, RouteResearchIngestion, RouteGeneral:
		return r, nil
	default:
		return "", fmt.Errorf("%w: route %q", ErrUnknownValue, raw)
	}
}

type TaskType string

const (
	TaskTypeResearch      TaskType = "research"
	TaskTypeCommunication TaskType = "communication"
	TaskTypeDevelopment   TaskType = "development"
	TaskTypePlanning      TaskType = "planning"
	TaskTypeAdmin         TaskType = "admin"
	TaskTypeGeneral       TaskType = "general"
)

// ClassificationMethod records how a domain classification was produced.
// MethodLLMFallback marks a result kept from an earlier stage because a
// model call failed or returned something unusable.
type ClassificationMethod string

const (
	MethodRuleBased   ClassificationMethod = "rule_based"
	MethodLLM         ClassificationMethod = "llm"
	MethodLLMFallback ClassificationMethod = "llm_fallback"
)

// CascadeStage is the last cascade stage that ran for a classification.
type CascadeStage string

const (
	StageRule   CascadeStage = "rule"
	StageWeak   CascadeStage = "weak_model"
	StageStrong CascadeStage = "strong_model"
)

// Sub-categories the rule classifier can attach to a domain result.
const (
	SubCategoryClient  = "client"
	SubCategoryProduct = "product"
	SubCategoryFinance = "finance"
	SubCategoryMeeting = "meeting"
	SubCategoryHealth  = "health"
	SubCategoryFamily  = "family"
	SubCategoryHome    = "home"
)

type DomainClassification struct {
	Domain      Domain               `json:"domain"`
	Confidence  float64              `json:"confidence"`
	Reasoning   string               `json:"reasoning"`
	SubCategory string               `json:"sub_category,omitempty"`
	Signals     []string             `json:"signals"`
	Method      ClassificationMethod `json:"method"`
}

// ProductPotential describes how likely an input hints at something worth
// building. Signals lists the active categories in detection order;
// MatchedPatterns holds the raw text that triggered them.
type ProductPotential struct {
	HasPotential    bool     `json:"has_potential"`
	Score           float64  `json:"score"`
	Signals         []string `json:"signals"`
	MatchedPatterns []string `json:"matched_patterns"`
	SuggestedTypes  []string `json:"suggested_types"`
	MarketSize      string   `json:"market_size"`
	ValidationSteps []string `json:"validation_steps"`
}

type TaskClassification struct {
	TaskType   TaskType `json:"task_type"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals"`
}

// Escalation describes how far through the cascade a classification went.
type Escalation struct {
	Method    ClassificationMethod `json:"method"`
	Stage     CascadeStage         `json:"stage"`
	Escalated bool                 `json:"escalated"`
	Reason    string               `json:"reason,omitempty"`
}

type IntakeClassificationResult struct {
	Domain             DomainClassification `json:"domain"`
	Product            ProductPotential     `json:"product"`
	Task               TaskClassification   `json:"task"`
	Priority           Priority             `json:"priority"`
	RouteTo            Route                `json:"route_to"`
	CombinedConfidence float64              `json:"combined_confidence"`
	Escalation         Escalation           `json:"escalation"`
}

// FewShotExample is a strong-model classification kept as a prompt example
// for later weak-model calls.
type FewShotExample struct {
	Query      string    `json:"query"`
	Domain     Domain    `json:"domain"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Category   string    `json:"category,omitempty"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}
