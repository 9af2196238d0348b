package fhirquality

// The engine carries two deliberately distinct scoring algorithms.
// TieredScore backs the interactive, user-facing result; ContinuousScore
// backs bulk runs and change-detection comparisons where a smooth
// gradient matters more than tier boundaries. Do not unify them.

// TieredScore computes the tiered 0-100 score and validity flag.
//
// Any error or fatal issue caps the score at max(0, 60-20*errors) and
// forces invalidity. Otherwise any warning caps it at
// max(70, 100-5*warnings). Information-only results stay at 100.
func TieredScore(issues []Issue) (score int, valid bool) {
	errors := 0
	warnings := 0
	for _, issue := range issues {
		switch {
		case issue.IsError():
			errors++
		case issue.IsWarning():
			warnings++
		}
	}

	if errors > 0 {
		score = 60 - errors*20
		if score < 0 {
			score = 0
		}
		return score, false
	}
	if warnings > 0 {
		score = 100 - warnings*5
		if score < 70 {
			score = 70
		}
		return score, true
	}
	return 100, true
}

// ContinuousScore computes the weighted-deduction 0-100 score used by
// the bulk validation path: fatal/error -10, warning -2, information
// -0.5, floored at 0.
func ContinuousScore(issues []Issue) int {
	score := 100.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityFatal, SeverityError:
			score -= 10
		case SeverityWarning:
			score -= 2
		case SeverityInformation:
			score -= 0.5
		}
	}
	if score < 0 {
		score = 0
	}
	return int(score + 0.5)
}
