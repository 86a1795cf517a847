package enums

type DuplicatePolicy string

const (
	// DuplicatePolicyAllow inserts every delivered event, so a redelivery after a
	// resubscribe produces a second row with the same source id.
	DuplicatePolicyAllow DuplicatePolicy = "allow"

	// DuplicatePolicySkip inserts an event only when no row with the same source id exists.
	DuplicatePolicySkip DuplicatePolicy = "skip"
)

func (p DuplicatePolicy) Valid() bool {
	return p == DuplicatePolicyAllow || p == DuplicatePolicySkip
}
