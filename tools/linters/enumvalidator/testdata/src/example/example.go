package example

type Domain string

const (
	DomainPersonal Domain = "personal"
	DomainBusiness Domain = "business"
	DomainMixed    Domain = "mixed"
)

type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

type IntakeEvent struct {
	Domain   Domain
	Priority Priority
	Category string
}

func bad() {
	e := &IntakeEvent{}
	e.Domain = "work" // want "enum field Domain assigned string literal"

	_ = IntakeEvent{Priority: "P9"} // want "enum field Priority assigned string literal"
}

func partialSwitch(d Domain) string {
	switch d { // want "switch on Domain is missing cases: DomainMixed"
	case DomainPersonal:
		return "general"
	case DomainBusiness:
		return "email"
	}
	return ""
}

func good() {
	e := &IntakeEvent{}
	e.Domain = DomainBusiness // OK: using constant
	e.Category = "client"     // OK: not an enum

	_ = IntakeEvent{Domain: DomainMixed, Priority: PriorityP1}
}

func exhaustiveSwitch(p Priority) int {
	switch p {
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	}
	return 0
}

func defaultSwitch(d Domain) bool {
	switch d {
	case DomainBusiness:
		return true
	default:
		return false
	}
}
