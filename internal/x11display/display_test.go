package x11display

import (
	"testing"

	"github.com/jezek/xgb/randr"
)

func TestBestModePicksSmallestFit(t *testing.T) {
	all := []randr.ModeInfo{
		{Id: 1, Width: 1920, Height: 1080},
		{Id: 2, Width: 2560, Height: 1440},
		{Id: 3, Width: 1280, Height: 720},
	}
	candidates := []randr.Mode{1, 2, 3}

	mode, ok := bestMode(all, candidates, 1921, 1082)
	if !ok {
		t.Fatal("expected a matching mode")
	}
	if mode != 2 {
		t.Fatalf("expected mode 2 (2560x1440), got %d", mode)
	}
}

func TestBestModeExactFit(t *testing.T) {
	all := []randr.ModeInfo{
		{Id: 1, Width: 1920, Height: 1080},
		{Id: 2, Width: 2560, Height: 1440},
	}
	mode, ok := bestMode(all, []randr.Mode{1, 2}, 1920, 1080)
	if !ok || mode != 1 {
		t.Fatalf("expected exact-fit mode 1, got %d ok=%v", mode, ok)
	}
}

func TestBestModeNoMatch(t *testing.T) {
	all := []randr.ModeInfo{
		{Id: 1, Width: 1280, Height: 720},
	}
	_, ok := bestMode(all, []randr.Mode{1}, 1920, 1080)
	if ok {
		t.Fatal("expected no match for a mode smaller than requested")
	}
}
