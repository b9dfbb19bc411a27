package units

import "testing"

func TestEnergy(t *testing.T) {
	cases := []struct {
		value float64
		unit  string
		want  float64
		ok    bool
	}{
		{100, "kcal", 418.4, true},
		{100, "Cal", 418.4, true},
		{10, "kJ", 10, true},
		{5, "joule", 5, false},
	}
	for _, c := range cases {
		got, ok := Energy(c.value, c.unit)
		if ok != c.ok || got != c.want {
			t.Errorf("Energy(%v, %q) = %v, %v; want %v, %v", c.value, c.unit, got, ok, c.want, c.ok)
		}
	}
}

func TestDistance(t *testing.T) {
	cases := []struct {
		value float64
		unit  string
		want  float64
		ok    bool
	}{
		{1, "km", 1000, true},
		{1, "mi", 1609.344, true},
		{1, "miles", 1609.344, true},
		{5, "m", 5, true},
		{5, "furlong", 5, false},
	}
	for _, c := range cases {
		got, ok := Distance(c.value, c.unit)
		if ok != c.ok || got != c.want {
			t.Errorf("Distance(%v, %q) = %v, %v; want %v, %v", c.value, c.unit, got, ok, c.want, c.ok)
		}
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		value float64
		unit  string
		want  float64
		ok    bool
	}{
		{2, "min", 120, true},
		{1, "hr", 3600, true},
		{30, "s", 30, true},
		{30, "fortnight", 30, false},
	}
	for _, c := range cases {
		got, ok := Duration(c.value, c.unit)
		if ok != c.ok || got != c.want {
			t.Errorf("Duration(%v, %q) = %v, %v; want %v, %v", c.value, c.unit, got, ok, c.want, c.ok)
		}
	}
}
