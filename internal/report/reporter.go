package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/testforge-labs/testforge-go/internal/domain"
)

// Reporter normalizes raw run results into the final report. Aggregation
// is deterministic: identical inputs always yield an identical report.
type Reporter struct {
	now func() time.Time
}

func New() *Reporter {
	return &Reporter{now: time.Now}
}

// Summarize produces exactly one verdict per originating case: executed
// entries get pass/fail, unattempted entries get error, adapter skips
// get skipped. Raw results that violate the runner contract are a fatal
// ReportMalformedInputError, never guessed at.
func (r *Reporter) Summarize(collection domain.ExecutableCollection, result domain.RunResult, skipped []domain.SkippedCase) (domain.Report, error) {
	if result.RunID != "" && result.RunID != collection.RunID {
		return domain.Report{}, &domain.ReportMalformedInputError{
			Cause: fmt.Sprintf("result run id %s does not match collection run id %s", result.RunID, collection.RunID),
		}
	}

	known := make(map[string]domain.CollectionEntry, len(collection.Entries))
	for _, entry := range collection.Entries {
		known[entry.CaseID] = entry
	}

	byCase := make(map[string]domain.RequestResult, len(result.Requests))
	for _, request := range result.Requests {
		if _, ok := known[request.CaseID]; !ok {
			return domain.Report{}, &domain.ReportMalformedInputError{
				Cause: fmt.Sprintf("result references case %s absent from the collection", request.CaseID),
			}
		}
		if _, ok := byCase[request.CaseID]; ok {
			return domain.Report{}, &domain.ReportMalformedInputError{
				Cause: fmt.Sprintf("result contains case %s more than once", request.CaseID),
			}
		}
		byCase[request.CaseID] = request
	}

	out := domain.Report{
		RunID:       collection.RunID,
		GeneratedAt: r.now().UTC(),
	}

	for _, entry := range collection.Entries {
		request, attempted := byCase[entry.CaseID]
		caseReport := domain.CaseReport{CaseID: entry.CaseID, EndpointRef: entry.Endpoint}
		switch {
		case !attempted:
			caseReport.Verdict = domain.VerdictError
			caseReport.Detail = notAttemptedDetail(result)
		case request.Error != "":
			caseReport.Verdict = domain.VerdictError
			caseReport.Detail = request.Error
		case request.Passed():
			caseReport.Verdict = domain.VerdictPass
		default:
			caseReport.Verdict = domain.VerdictFail
			caseReport.Detail = failureDetail(request)
		}
		out.Cases = append(out.Cases, caseReport)
	}

	ordered := append([]domain.SkippedCase{}, skipped...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CaseID < ordered[j].CaseID })
	for _, skip := range ordered {
		out.Cases = append(out.Cases, domain.CaseReport{
			CaseID:  skip.CaseID,
			Verdict: domain.VerdictSkipped,
			Detail:  skip.Reason,
		})
	}

	for _, caseReport := range out.Cases {
		switch caseReport.Verdict {
		case domain.VerdictPass:
			out.Totals.Pass++
		case domain.VerdictFail:
			out.Totals.Fail++
		case domain.VerdictError:
			out.Totals.Error++
		case domain.VerdictSkipped:
			out.Totals.Skipped++
		}
	}

	if err := out.Validate(); err != nil {
		return domain.Report{}, &domain.ReportMalformedInputError{Cause: err.Error()}
	}
	return out, nil
}

func notAttemptedDetail(result domain.RunResult) string {
	if strings.TrimSpace(result.RunnerError) != "" {
		return "not attempted: " + result.RunnerError
	}
	return "not attempted"
}

func failureDetail(request domain.RequestResult) string {
	var parts []string
	for _, outcome := range request.Assertions {
		if outcome.Passed {
			continue
		}
		part := fmt.Sprintf("%s expected %q", outcome.Assertion.Type, outcome.Assertion.Value)
		if outcome.Assertion.Target != "" {
			part = fmt.Sprintf("%s on %q expected %q", outcome.Assertion.Type, outcome.Assertion.Target, outcome.Assertion.Value)
		}
		if outcome.Actual != "" {
			part += fmt.Sprintf(", got %q", outcome.Actual)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
