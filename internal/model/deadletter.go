package model

// DeadLetterKind classifies why a record was set aside for review
type DeadLetterKind string

const (
	DeadParseFailure         DeadLetterKind = "parse_failure"          // Rate text matched no grammar rule
	DeadRowValidationFailure DeadLetterKind = "row_validation_failure" // Malformed code or missing description
	DeadInvalidCodeLength    DeadLetterKind = "invalid_code_length"    // Digits only, but not 2/4/6/8/10 long
	DeadDuplicateCode        DeadLetterKind = "duplicate_code"         // Code already emitted in this run
	DeadFetchFailure         DeadLetterKind = "fetch_failure"          // Page could not be fetched after retries
	DeadHierarchyOrphan      DeadLetterKind = "hierarchy_orphan"       // Parent missing from the snapshot
	DeadUnreferencedCode     DeadLetterKind = "unreferenced_code"      // Register row names a code not in the schedule
)

// DeadLetter is a rejected or suspicious input kept for manual correction
type DeadLetter struct {
	Kind      DeadLetterKind `json:"kind"`
	URL       string         `json:"url,omitempty"`
	ChapterID string         `json:"chapter_id,omitempty"`
	Code      string         `json:"code,omitempty"`
	Raw       string         `json:"raw,omitempty"`
	Reason    string         `json:"reason"`
}
