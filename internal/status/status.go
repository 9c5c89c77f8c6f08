// Package status accumulates the structured report of a daily run and
// persists it after every phase, so partial progress survives a crash.
package status

import (
	"time"
)

// Report is the full run summary. It is created once at run start and
// mutated after every phase; each persist writes the whole document.
type Report struct {
	Job          string               `json:"job"`
	UpdatedAtUTC string               `json:"updated_at_utc"`
	Host         string               `json:"host"`
	GitHub       GitHubStatus         `json:"github"`
	DatumAPI     DatumAPIStatus       `json:"datum_api"`
	Cracen       CracenStatus         `json:"cracen"`
	Strategies   map[string]JobStatus `json:"strategies"`
	DurationsSec map[string]float64   `json:"durations_sec"`
	FatalError   string               `json:"fatal_error,omitempty"`
}

// GitHubStatus records the sync and publish outcomes of the run.
type GitHubStatus struct {
	StrategiesRepo    string `json:"strategies_repo"`
	StrategiesSHA     string `json:"strategies_sha,omitempty"`
	StrategiesUpdated *bool  `json:"strategies_updated"`
	StrategiesError   string `json:"strategies_error,omitempty"`
	ResultsRepo       string `json:"results_repo"`
	ResultsCommit     string `json:"results_commit,omitempty"`
	ResultsPushed     *bool  `json:"results_pushed"`
	ResultsError      string `json:"results_error,omitempty"`
	ResultsLayout     string `json:"results_layout"`
	ResultsSubdir     string `json:"results_subdir"`
}

// DatumAPIStatus records the secret staging outcome.
type DatumAPIStatus struct {
	OK                    bool   `json:"ok"`
	ConfigPath            string `json:"config_path,omitempty"`
	CredentialsPath       string `json:"credentials_path,omitempty"`
	StagedConfigPath      string `json:"staged_config_path,omitempty"`
	StagedCredentialsPath string `json:"staged_credentials_path,omitempty"`
	Error                 string `json:"error,omitempty"`
}

// CracenStatus records the primary job outcome.
type CracenStatus struct {
	OK        bool   `json:"ok"`
	FinalPath string `json:"final_path"`
	Error     string `json:"error,omitempty"`
}

// JobStatus records one dependent job outcome.
type JobStatus struct {
	OK          bool    `json:"ok"`
	DurationSec float64 `json:"duration_sec"`
	Error       string  `json:"error,omitempty"`
}

// NewReport creates the initial report for a run.
func NewReport(host string) *Report {
	return &Report{
		Job:          "OriON daily",
		Host:         host,
		Strategies:   make(map[string]JobStatus),
		DurationsSec: make(map[string]float64),
	}
}

// Touch stamps the report with the current UTC time.
func (r *Report) Touch() {
	r.UpdatedAtUTC = time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}
