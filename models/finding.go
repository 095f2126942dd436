package models

// Severity values a delivered finding may carry.
const (
	SeverityHigh      = "High"
	SeverityPotential = "Potential"
)

// Finding is one candidate secret, or a sentinel recording why normal
// scanning of a line/file was truncated. Severity is empty between the
// scanner and the classifier; no finding is delivered with an empty
// severity. The lower-cased diagnostic fields mirror the classifier's two
// signals (matched token and line context).
type Finding struct {
	Path     string `json:"path"`
	Line     int    `json:"line"` // 1-based; 0 for whole-file sentinels
	Secret   string `json:"secret"`
	Context  string `json:"context"`
	Severity string `json:"severity"`
	Type     string `json:"Type"`

	// Error carries the failure text of a Process Error finding.
	Error string `json:"error,omitempty"`

	Confidence         float64 `json:"confidence"`
	SecretConfidence   float64 `json:"secret_confidence"`
	ContextConfidence  float64 `json:"context_confidence"`
	SecretPrediction   int     `json:"secret_prediction"`
	ContextPrediction  int     `json:"context_prediction"`
	ConfidenceAveraged bool    `json:"confidence_averaged"`
}

// Sentinel finding types emitted by the file scanner.
const (
	TypeTooLongLine    = "Too Long Line"
	TypeTooManySecrets = "Too Many Secrets"
	TypeProcessError   = "Process Error"
)
