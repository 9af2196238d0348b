package fhirquality

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsRecordValidation(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(10*time.Millisecond, true)
	m.RecordValidation(30*time.Millisecond, false)

	s := m.Snapshot()
	if s.ValidationsTotal != 2 {
		t.Errorf("ValidationsTotal = %d; want 2", s.ValidationsTotal)
	}
	if s.ValidationsValid != 1 {
		t.Errorf("ValidationsValid = %d; want 1", s.ValidationsValid)
	}
	if s.MinDuration != 10*time.Millisecond {
		t.Errorf("MinDuration = %v; want 10ms", s.MinDuration)
	}
	if s.MaxDuration != 30*time.Millisecond {
		t.Errorf("MaxDuration = %v; want 30ms", s.MaxDuration)
	}
	if s.AvgDuration != 20*time.Millisecond {
		t.Errorf("AvgDuration = %v; want 20ms", s.AvgDuration)
	}
}

func TestMetricsRecordAspect(t *testing.T) {
	m := NewMetrics()
	m.RecordAspect(AspectTerminology, 4*time.Millisecond, 2)
	m.RecordAspect(AspectTerminology, 6*time.Millisecond, 1)

	s := m.Snapshot()
	am, ok := s.Aspects[AspectTerminology]
	if !ok {
		t.Fatal("terminology aspect missing from snapshot")
	}
	if am.Invocations != 2 {
		t.Errorf("Invocations = %d; want 2", am.Invocations)
	}
	if am.IssuesFound != 3 {
		t.Errorf("IssuesFound = %d; want 3", am.IssuesFound)
	}
	if am.AvgDuration != 5*time.Millisecond {
		t.Errorf("AvgDuration = %v; want 5ms", am.AvgDuration)
	}
}

func TestMetricsRecordIssues(t *testing.T) {
	m := NewMetrics()
	m.RecordIssues([]Issue{
		{Severity: SeverityFatal},
		{Severity: SeverityError},
		{Severity: SeverityWarning},
		{Severity: SeverityInformation},
	})

	s := m.Snapshot()
	if s.ErrorsTotal != 2 {
		t.Errorf("ErrorsTotal = %d; want 2", s.ErrorsTotal)
	}
	if s.WarningsTotal != 1 {
		t.Errorf("WarningsTotal = %d; want 1", s.WarningsTotal)
	}
	if s.InfosTotal != 1 {
		t.Errorf("InfosTotal = %d; want 1", s.InfosTotal)
	}
}

func TestMetricsConcurrentAccess(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordValidation(time.Millisecond, j%2 == 0)
				m.RecordAspect(AspectStructural, time.Microsecond, 1)
				m.RecordCacheHit()
				m.RecordSkipped()
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.ValidationsTotal != 800 {
		t.Errorf("ValidationsTotal = %d; want 800", s.ValidationsTotal)
	}
	if s.CacheHits != 800 {
		t.Errorf("CacheHits = %d; want 800", s.CacheHits)
	}
	if s.ResourcesSkipped != 800 {
		t.Errorf("ResourcesSkipped = %d; want 800", s.ResourcesSkipped)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordValidation(time.Millisecond, true)
	m.RecordAspect(AspectProfile, time.Millisecond, 1)
	m.Reset()

	s := m.Snapshot()
	if s.ValidationsTotal != 0 {
		t.Errorf("ValidationsTotal after Reset = %d; want 0", s.ValidationsTotal)
	}
	if len(s.Aspects) != 0 {
		t.Errorf("Aspects after Reset = %d entries; want 0", len(s.Aspects))
	}
	if s.MinDuration != 0 {
		t.Errorf("MinDuration after Reset = %v; want 0", s.MinDuration)
	}
}
