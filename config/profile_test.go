package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfileEmptyPath(t *testing.T) {
	p, err := LoadProfile("")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Resolution != "1920x1080" || p.FPS != 30 {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if p.Planner.TransitionMode != "beat_sync" {
		t.Errorf("expected beat_sync, got %q", p.Planner.TransitionMode)
	}
}

func TestLoadProfileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	data := []byte("resolution: 1080x1920\nfps: 24\nplanner:\n  transition_mode: uniform\n  min_segment_duration: 1\n  max_segment_duration: 4\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Resolution != "1080x1920" || p.FPS != 24 {
		t.Errorf("overrides not applied: %+v", p)
	}
	if p.Planner.TransitionMode != "uniform" || p.Planner.MaxSegment != 4 {
		t.Errorf("planner overrides not applied: %+v", p.Planner)
	}
	// untouched keys keep their defaults
	if p.Planner.TransitionStyle != "crossfade" || p.Analyzer.EnergyHopMs != 50 {
		t.Errorf("defaults lost: %+v", p)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *RenderProfile)
	}{
		{"resolution", func(p *RenderProfile) { p.Resolution = "640x480" }},
		{"fps", func(p *RenderProfile) { p.FPS = 25 }},
		{"mode", func(p *RenderProfile) { p.Planner.TransitionMode = "random" }},
		{"bounds", func(p *RenderProfile) { p.Planner.MaxSegment = 1 }},
		{"hop", func(p *RenderProfile) { p.Analyzer.EnergyHopMs = 5 }},
		{"beat strength", func(p *RenderProfile) { p.Analyzer.MinBeatStrength = 1.5 }},
		{"nan min segment", func(p *RenderProfile) { p.Planner.MinSegment = math.NaN() }},
		{"nan max segment", func(p *RenderProfile) { p.Planner.MaxSegment = math.NaN() }},
		{"inf max segment", func(p *RenderProfile) { p.Planner.MaxSegment = math.Inf(1) }},
		{"nan transition", func(p *RenderProfile) { p.Planner.TransitionDuration = math.NaN() }},
		{"nan threshold", func(p *RenderProfile) { p.Analyzer.SectionThreshold = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := DefaultProfile().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadProfileRejectsNaNBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	data := []byte("planner:\n  max_segment_duration: .nan\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatal("expected a NaN segment bound to be rejected")
	}
}
