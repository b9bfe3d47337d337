package domain

import (
	"strings"
	"testing"
)

func TestExecutableCollectionValidate(t *testing.T) {
	valid := ExecutableCollection{
		RunID: "run-1",
		Entries: []CollectionEntry{
			{CaseID: "a", Method: "GET", URL: "http://api/one"},
			{CaseID: "b", Method: "POST", URL: "http://api/two"},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid collection rejected: %v", err)
	}
}

func TestExecutableCollectionRejectsOrphans(t *testing.T) {
	orphaned := ExecutableCollection{
		RunID:   "run-1",
		Entries: []CollectionEntry{{Method: "GET", URL: "http://api/one"}},
	}
	err := orphaned.Validate()
	if err == nil || !strings.Contains(err.Error(), "orphaned") {
		t.Fatalf("expected orphan error, got %v", err)
	}
}

func TestExecutableCollectionRejectsDuplicateCases(t *testing.T) {
	duplicated := ExecutableCollection{
		RunID: "run-1",
		Entries: []CollectionEntry{
			{CaseID: "a", Method: "GET", URL: "http://api/one"},
			{CaseID: "a", Method: "GET", URL: "http://api/one"},
		},
	}
	if err := duplicated.Validate(); err == nil {
		t.Fatal("expected duplicate case error")
	}
}

func TestAuthSpecValidate(t *testing.T) {
	if err := (AuthSpec{Type: AuthBearer}).Validate(); err != nil {
		t.Fatalf("bearer rejected: %v", err)
	}
	if err := (AuthSpec{Type: AuthAPIKey}).Validate(); err == nil {
		t.Fatal("api_key without a name accepted")
	}
	if err := (AuthSpec{Type: AuthAPIKey, HeaderName: "X-Api-Key"}).Validate(); err != nil {
		t.Fatalf("api_key with header rejected: %v", err)
	}
	if err := (AuthSpec{Type: "digest"}).Validate(); err == nil {
		t.Fatal("unknown auth type accepted")
	}
}

func TestReportValidateTotalsAndVerdicts(t *testing.T) {
	report := Report{
		RunID:  "run-1",
		Totals: ReportTotals{Pass: 1, Skipped: 1},
		Cases: []CaseReport{
			{CaseID: "a", Verdict: VerdictPass},
			{CaseID: "b", Verdict: VerdictSkipped},
		},
	}
	if err := report.Validate(); err != nil {
		t.Fatalf("valid report rejected: %v", err)
	}

	report.Totals.Pass = 2
	if err := report.Validate(); err == nil {
		t.Fatal("mismatched totals accepted")
	}

	report.Totals.Pass = 1
	report.Cases[1].Verdict = "maybe"
	if err := report.Validate(); err == nil {
		t.Fatal("unknown verdict accepted")
	}
}
