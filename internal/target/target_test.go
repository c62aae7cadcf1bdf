package target

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

func TestFixedAndNone(t *testing.T) {
	p, ok := Fixed{Point: r2.Vec{X: 3, Y: -4}}.Target(10)
	if !ok || p != (r2.Vec{X: 3, Y: -4}) {
		t.Errorf("Fixed = %v, %v", p, ok)
	}
	if _, ok := (None{}).Target(0); ok {
		t.Error("None reported a target")
	}
}

func TestSweep_StaysWithinAmplitude(t *testing.T) {
	s := NewSweep(1200, 900)
	for i := 0; i < 2000; i++ {
		p, ok := s.Target(float64(i) / 60)
		if !ok {
			t.Fatal("sweep reported no target")
		}
		if math.Abs(p.X) > 540+1e-9 || math.Abs(p.Y) > 405+1e-9 {
			t.Fatalf("t=%d: %v outside amplitude", i, p)
		}
	}
	p, _ := s.Target(0)
	if p.X != 0 || math.Abs(p.Y-405) > 1e-9 {
		t.Errorf("Target(0) = %v, want (0, 405)", p)
	}
}

func TestManual(t *testing.T) {
	m := &Manual{TTL: 2}
	if _, ok := m.Target(0); ok {
		t.Fatal("unset manual reported a target")
	}

	m.Set(r2.Vec{X: 10, Y: 20})
	if p, ok := m.Target(5); !ok || p.X != 10 {
		t.Fatalf("Target(5) = %v, %v", p, ok)
	}
	if _, ok := m.Target(6.5); !ok {
		t.Error("target expired before TTL")
	}
	if _, ok := m.Target(7.5); ok {
		t.Error("target outlived TTL")
	}

	m.Set(r2.Vec{X: 1})
	if _, ok := m.Target(8); !ok {
		t.Error("re-set target not reported")
	}
	m.Clear()
	if _, ok := m.Target(8); ok {
		t.Error("cleared target reported")
	}
	if _, set := m.Point(); set {
		t.Error("Point reports cleared target as set")
	}
}

func TestFallback(t *testing.T) {
	m := &Manual{}
	f := Fallback{Primary: m, Secondary: Fixed{Point: r2.Vec{X: 7}}}
	if p, _ := f.Target(0); p.X != 7 {
		t.Errorf("fallback not used: %v", p)
	}
	m.Set(r2.Vec{X: 1})
	if p, _ := f.Target(0); p.X != 1 {
		t.Errorf("primary not preferred: %v", p)
	}
	calls := 0
	g := SourceFunc(func(float64) (r2.Vec, bool) { calls++; return r2.Vec{}, false })
	if _, ok := (Fallback{Primary: g, Secondary: None{}}).Target(0); ok || calls != 1 {
		t.Errorf("ok=%v calls=%d", ok, calls)
	}
}
