// Package roles provides the single capability classification shared by the
// escrow ledger, the staking ledger and the dispute resolver. Every
// authorization decision reduces to the same question: who is the caller
// relative to the record's participants and the configured operator identity?
package roles

// Party is the capability class of a caller relative to a record.
type Party uint8

const (
	PartyStranger Party = iota
	PartyBuyer
	PartyProvider
	PartyOperator
)

// String returns the lowercase name of the party class.
func (p Party) String() string {
	switch p {
	case PartyBuyer:
		return "buyer"
	case PartyProvider:
		return "provider"
	case PartyOperator:
		return "operator"
	default:
		return "stranger"
	}
}

// Classify resolves the capability class for caller against a record's buyer
// and provider and the configured operator identity. The operator class wins
// over participant classes so the privileged identity keeps its administrative
// capabilities even when it is also a party to the record. The identity type
// is generic: the ledgers classify [20]byte addresses, the dispute resolver
// classifies account UUIDs.
func Classify[T comparable](caller, buyer, provider, operator T) Party {
	switch caller {
	case operator:
		return PartyOperator
	case buyer:
		return PartyBuyer
	case provider:
		return PartyProvider
	}
	return PartyStranger
}
