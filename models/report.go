package models

// LanguageStat aggregates the per-language slice of the detection walk.
type LanguageStat struct {
	Files      int      `json:"files"`
	Extensions []string `json:"extensions"`
}

// ScanReport is the payload delivered to the callback URL when a job
// finishes. Status is "completed" or "Error"; partial-progress pings use
// PartialReport instead.
type ScanReport struct {
	Status         string                  `json:"Status"`
	Message        string                  `json:"Message"`
	ProjectName    string                  `json:"ProjectName"`
	ProjectRepoUrl string                  `json:"ProjectRepoUrl,omitempty"`
	RepoCommit     string                  `json:"RepoCommit,omitempty"`
	Results        []Finding               `json:"Results,omitempty"`
	FilesScanned   int                     `json:"FilesScanned"`
	Languages      map[string]LanguageStat `json:"Languages,omitempty"`
	Frameworks     map[string][]string     `json:"Frameworks,omitempty"`
}

// PartialReport is the lightweight progress ping sent while a scan runs.
type PartialReport struct {
	Status       string `json:"Status"` // always "partial"
	FilesScanned int    `json:"FilesScanned"`
}
