package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verdict is the final classification of one test case.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictError   Verdict = "error"
	VerdictSkipped Verdict = "skipped"
)

// Report is the terminal artifact of a run: one verdict per originating
// test case definition, plus summary counts.
type Report struct {
	RunID       string       `json:"runId"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Totals      ReportTotals `json:"totals"`
	Cases       []CaseReport `json:"cases"`
}

type ReportTotals struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Error   int `json:"error"`
	Skipped int `json:"skipped"`
}

// CaseReport is the verdict for one test case.
type CaseReport struct {
	CaseID      string      `json:"caseId"`
	EndpointRef EndpointRef `json:"endpointRef"`
	Verdict     Verdict     `json:"verdict"`
	Detail      string      `json:"detail,omitempty"`
}

func (t ReportTotals) Sum() int {
	return t.Pass + t.Fail + t.Error + t.Skipped
}

func (r Report) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("report run id is required")
	}
	if r.Totals.Sum() != len(r.Cases) {
		return fmt.Errorf("report totals %d disagree with %d cases", r.Totals.Sum(), len(r.Cases))
	}
	seen := make(map[string]struct{}, len(r.Cases))
	for i, c := range r.Cases {
		if strings.TrimSpace(c.CaseID) == "" {
			return fmt.Errorf("case report[%d] id is required", i)
		}
		if _, ok := seen[c.CaseID]; ok {
			return fmt.Errorf("case %s appears more than once", c.CaseID)
		}
		seen[c.CaseID] = struct{}{}
		switch c.Verdict {
		case VerdictPass, VerdictFail, VerdictError, VerdictSkipped:
		default:
			return fmt.Errorf("case %s has unknown verdict %q", c.CaseID, c.Verdict)
		}
	}
	return nil
}
