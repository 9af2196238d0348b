package fhirquality

import "testing"

func issuesOf(fatal, errors, warnings, infos int) []Issue {
	var issues []Issue
	for i := 0; i < fatal; i++ {
		issues = append(issues, Issue{Severity: SeverityFatal})
	}
	for i := 0; i < errors; i++ {
		issues = append(issues, Issue{Severity: SeverityError})
	}
	for i := 0; i < warnings; i++ {
		issues = append(issues, Issue{Severity: SeverityWarning})
	}
	for i := 0; i < infos; i++ {
		issues = append(issues, Issue{Severity: SeverityInformation})
	}
	return issues
}

func TestTieredScore(t *testing.T) {
	tests := []struct {
		name      string
		issues    []Issue
		wantScore int
		wantValid bool
	}{
		{"clean", nil, 100, true},
		{"information only", issuesOf(0, 0, 0, 3), 100, true},
		{"one warning", issuesOf(0, 0, 1, 0), 95, true},
		{"five warnings hits floor area", issuesOf(0, 0, 5, 0), 75, true},
		{"many warnings floored at 70", issuesOf(0, 0, 20, 0), 70, true},
		{"one error", issuesOf(0, 1, 0, 0), 40, false},
		{"two errors", issuesOf(0, 2, 0, 0), 20, false},
		{"three errors", issuesOf(0, 3, 0, 0), 0, false},
		{"many errors floored at zero", issuesOf(1, 9, 0, 0), 0, false},
		{"error dominates warnings", issuesOf(0, 1, 4, 0), 40, false},
		{"fatal counts as error", issuesOf(1, 0, 0, 0), 40, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, valid := TieredScore(tt.issues)
			if score != tt.wantScore {
				t.Errorf("score = %d; want %d", score, tt.wantScore)
			}
			if valid != tt.wantValid {
				t.Errorf("valid = %v; want %v", valid, tt.wantValid)
			}
			if score < 0 || score > 100 {
				t.Errorf("score %d out of [0,100]", score)
			}
		})
	}
}

func TestContinuousScore(t *testing.T) {
	tests := []struct {
		name   string
		issues []Issue
		want   int
	}{
		{"clean", nil, 100},
		{"one error", issuesOf(0, 1, 0, 0), 90},
		{"error plus warning", issuesOf(0, 1, 1, 0), 88},
		{"two infos round down", issuesOf(0, 0, 0, 2), 99},
		{"one info rounds up", issuesOf(0, 0, 0, 1), 100},
		{"floor at zero", issuesOf(5, 6, 0, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContinuousScore(tt.issues); got != tt.want {
				t.Errorf("ContinuousScore() = %d; want %d", got, tt.want)
			}
		})
	}
}

// The two schemes are intentionally different; make sure they disagree
// where they are supposed to.
func TestScoringSchemesDiverge(t *testing.T) {
	issues := issuesOf(0, 1, 0, 0)
	tiered, _ := TieredScore(issues)
	continuous := ContinuousScore(issues)
	if tiered == continuous {
		t.Errorf("tiered (%d) and continuous (%d) should differ for a single error", tiered, continuous)
	}
}
