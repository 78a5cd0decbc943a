package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/courtedge/internal/models"
)

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Side
		wantErr bool
	}{
		{in: "HOME", want: models.SideHome},
		{in: " away ", want: models.SideAway},
		{in: "draw", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseSide(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSide(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSide(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintOpportunities(t *testing.T) {
	var buf bytes.Buffer
	printOpportunities(&buf, nil)
	if !strings.Contains(buf.String(), "No opportunities") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printOpportunities(&buf, []models.Opportunity{{
		Match:      "A vs B",
		Home:       "A",
		Away:       "B",
		Side:       models.SideAway,
		Odd:        2.5,
		EV:         0.125,
		StartTime:  time.Date(2026, 6, 1, 18, 30, 0, 0, time.UTC),
		Confidence: models.ConfidenceHigh,
	}})
	out := buf.String()
	for _, want := range []string{"+12.5%", "2.50", "B", "A vs B", "06-01 18:30", "HIGH"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
