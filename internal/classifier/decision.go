package classifier

import "basegraph.app/intake/internal/model"

// DerivePriority maps product potential, domain and sub-category to P1-P3.
// P4 is reserved for input with nothing to classify.
func DerivePriority(product model.ProductPotential, domain model.DomainClassification) model.Priority {
	switch {
	case product.HasPotential && domain.Domain == model.DomainBusiness:
		return model.PriorityP1
	case product.HasPotential || domain.Domain == model.DomainBusiness:
		return model.PriorityP2
	}

	switch domain.Domain {
	case model.DomainMixed:
		return model.PriorityP3
	case model.DomainPersonal:
		if domain.SubCategory == model.SubCategoryHealth {
			return model.PriorityP2
		}
		return model.PriorityP3
	case model.DomainBusiness:
		return model.PriorityP2
	default:
		return model.PriorityP3
	}
}

// DeriveRoute picks the downstream consumer for a classification. The first
// matching rule wins.
func DeriveRoute(product model.ProductPotential, domain model.DomainClassification, task model.TaskClassification) model.Route {
	if product.HasPotential {
		return model.RouteADRArchitect
	}

	switch domain.Domain {
	case model.DomainBusiness:
		switch domain.SubCategory {
		case model.SubCategoryClient:
			return model.RouteEmailAssistant
		case model.SubCategoryProduct:
			return model.RouteADRArchitect
		}
	case model.DomainPersonal, model.DomainMixed:
	}

	if task.TaskType == model.TaskTypeResearch {
		return model.RouteResearchIngestion
	}
	return model.RouteGeneral
}
