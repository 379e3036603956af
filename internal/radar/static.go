package radar

import (
	"fmt"
	"strings"
)

// Static analysis thresholds.
const (
	DefaultThreshold = 20
	longFileLines    = 10000
	longFilePenalty  = 5
)

// Finding records one matched rule in one file.
type Finding struct {
	File   string
	Group  string
	Reason string
}

// StaticReport is the result of scanning a bot's source files before launch.
type StaticReport struct {
	Score      int
	Findings   []Finding
	Suspicious bool
}

// FirstReason returns the human-readable reason of the first finding, or "".
func (r StaticReport) FirstReason() string {
	if len(r.Findings) == 0 {
		return ""
	}
	return r.Findings[0].Reason
}

// StaticScanner scores source files against the pattern groups. A score at or
// above the threshold vetoes the start attempt.
type StaticScanner struct {
	groups    []PatternGroup
	threshold int
}

// NewStaticScanner creates a scanner with the default pattern groups.
func NewStaticScanner() *StaticScanner {
	return NewStaticScannerWith(DefaultPatternGroups(), DefaultThreshold)
}

// NewStaticScannerWith creates a scanner with custom rules, used by tests
// and deployments that tune the pattern pack.
func NewStaticScannerWith(groups []PatternGroup, threshold int) *StaticScanner {
	return &StaticScanner{groups: groups, threshold: threshold}
}

// Scan scores every file's lower-cased content against the pattern groups.
// Each matching pattern adds its group weight once per file; files longer
// than 10,000 lines add a small penalty.
func (s *StaticScanner) Scan(files map[string]string) StaticReport {
	report := StaticReport{}

	for name, content := range files {
		lowered := strings.ToLower(content)

		for _, group := range s.groups {
			for _, pattern := range group.Patterns {
				if match := pattern.FindString(lowered); match != "" {
					report.Score += group.Weight
					report.Findings = append(report.Findings, Finding{
						File:   name,
						Group:  group.Name,
						Reason: fmt.Sprintf("%s indicator %q in %s", group.Name, match, name),
					})
				}
			}
		}

		if strings.Count(content, "\n")+1 > longFileLines {
			report.Score += longFilePenalty
			report.Findings = append(report.Findings, Finding{
				File:   name,
				Group:  "oversized-file",
				Reason: fmt.Sprintf("file %s exceeds %d lines", name, longFileLines),
			})
		}
	}

	report.Suspicious = report.Score >= s.threshold
	return report
}
