package models

// ScanRequest is the wire shape of a scan submission. Field names are
// PascalCase on the wire for compatibility with existing callers.
type ScanRequest struct {
	ProjectName string `json:"ProjectName"`
	RepoUrl     string `json:"RepoUrl"`
	RefType     string `json:"RefType"` // branch | tag | commit
	Ref         string `json:"Ref"`
	CallbackUrl string `json:"CallbackUrl"`
}

// ScanJob is an accepted scan request. Commit is filled exactly once by the
// ref resolver before the job is enqueued; everything else is immutable.
type ScanJob struct {
	ScanRequest
	Commit string
}

// ValidRefType reports whether t is one of the three supported ref kinds.
func ValidRefType(t string) bool {
	switch t {
	case "branch", "tag", "commit":
		return true
	}
	return false
}
