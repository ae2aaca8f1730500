package service

import (
	"log/slog"

	"basegraph.app/intake/internal/store"
)

type Services struct {
	stores     store.Provider
	txRunner   TxRunner
	queues     QueueBackend
	classifier Classifier
	maxRetries int
}

// NewServices wires services over stores that run outside a transaction
// and a TxRunner for units of work.
func NewServices(stores store.Provider, txRunner TxRunner, queues QueueBackend, classifier Classifier, maxRetries int) *Services {
	return &Services{
		stores:     stores,
		txRunner:   txRunner,
		queues:     queues,
		classifier: classifier,
		maxRetries: maxRetries,
	}
}

func (s *Services) Intake() IntakeService {
	return NewIntakeService(s.txRunner, s.maxRetries, slog.Default())
}

func (s *Services) Classification() ClassificationService {
	return NewClassificationService(s.classifier)
}

func (s *Services) Outbox() OutboxService {
	return NewOutboxService(s.stores.Outbox(), s.txRunner, s.maxRetries)
}

func (s *Services) QueueAdmin() QueueAdminService {
	return NewQueueAdminService(s.queues)
}

func (s *Services) Status() StatusService {
	return NewStatusService(s.queues, s.Outbox())
}
