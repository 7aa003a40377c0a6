package recorder

import "fmt"

// DupeAction is the outcome of a dedup decision for one capture.
type DupeAction int

const (
	// DupeWriteFull writes a normal response record.
	DupeWriteFull DupeAction = iota
	// DupeSkip drops the transaction entirely; nothing is written and the
	// index is unchanged.
	DupeSkip
	// DupeWriteRevisit writes a revisit record referencing the prior
	// record, indexed with mime warc/revisit.
	DupeWriteRevisit
	// DupeWriteDupe writes a full response record anyway and additionally
	// inserts a revisit CDX row referencing the original record.
	DupeWriteDupe
)

// DupePolicy decides what to do when a capture's payload digest hits the
// dedup index. Decide receives nil when there was no hit and must then
// return DupeWriteFull.
type DupePolicy interface {
	Decide(existing *CDXEntry) DupeAction
	Name() string
}

// SkipDupePolicy drops duplicates without writing.
type SkipDupePolicy struct{}

func (SkipDupePolicy) Decide(existing *CDXEntry) DupeAction {
	if existing == nil {
		return DupeWriteFull
	}
	return DupeSkip
}

func (SkipDupePolicy) Name() string { return "skip" }

// WriteRevisitDupePolicy replaces duplicate responses with revisit records.
type WriteRevisitDupePolicy struct{}

func (WriteRevisitDupePolicy) Decide(existing *CDXEntry) DupeAction {
	if existing == nil {
		return DupeWriteFull
	}
	return DupeWriteRevisit
}

func (WriteRevisitDupePolicy) Name() string { return "revisit" }

// WriteDupePolicy stores duplicates in full but tracks them with an extra
// revisit CDX row.
type WriteDupePolicy struct{}

func (WriteDupePolicy) Decide(existing *CDXEntry) DupeAction {
	if existing == nil {
		return DupeWriteFull
	}
	return DupeWriteDupe
}

func (WriteDupePolicy) Name() string { return "dupe" }

// ParseDupePolicy maps the dedup_policy configuration value to a policy.
func ParseDupePolicy(name string) (DupePolicy, error) {
	switch name {
	case "skip":
		return SkipDupePolicy{}, nil
	case "revisit", "":
		return WriteRevisitDupePolicy{}, nil
	case "dupe":
		return WriteDupePolicy{}, nil
	}
	return nil, fmt.Errorf("unknown dedup policy %q", name)
}
