package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"basegraph.app/intake/internal/model"
)

// Classifier is the cascade as seen by services.
type Classifier interface {
	Classify(ctx context.Context, text, extra string) *model.IntakeClassificationResult
}

type ClassifyParams struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

type ClassificationService interface {
	Classify(ctx context.Context, params ClassifyParams) (*model.IntakeClassificationResult, error)
}

type classificationService struct {
	classifier Classifier
}

func NewClassificationService(classifier Classifier) ClassificationService {
	return &classificationService{classifier: classifier}
}

// Classify runs the cascade synchronously. Empty text is valid and yields
// the low-confidence default; only oversized input is rejected.
func (s *classificationService) Classify(ctx context.Context, params ClassifyParams) (*model.IntakeClassificationResult, error) {
	if utf8.RuneCountInString(params.Text) > MaxContentRunes {
		return nil, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidInput, MaxContentRunes)
	}
	return s.classifier.Classify(ctx, params.Text, params.Context), nil
}
