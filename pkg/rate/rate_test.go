package rate

import (
	"errors"
	"math/rand"
	"testing"
)

type fixedSource []int

func (f *fixedSource) Intn(n int) int {
	v := (*f)[0]
	*f = (*f)[1:]
	return v % n
}

func TestValidate(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	tests := []struct {
		name    string
		g       Generator
		wantErr bool
	}{
		{"default range", Generator{Min: DefaultMin, Max: DefaultMax, Rand: src}, false},
		{"single value", Generator{Min: 3, Max: 3, Rand: src}, false},
		{"zero min", Generator{Min: 0, Max: 6, Rand: src}, true},
		{"negative min", Generator{Min: -2, Max: 6, Rand: src}, true},
		{"max below min", Generator{Min: 4, Max: 2, Rand: src}, true},
		{"nil source", Generator{Min: 1, Max: 6}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("error %v does not wrap ErrInvalidRange", err)
			}
		})
	}
}

func TestNextStaysInRange(t *testing.T) {
	g := Generator{Min: DefaultMin, Max: DefaultMax, Rand: rand.New(rand.NewSource(42))}
	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		r := g.Next()
		if r < DefaultMin || r > DefaultMax {
			t.Fatalf("rate %d outside [%d,%d]", r, DefaultMin, DefaultMax)
		}
		seen[r] = true
	}
	if len(seen) != DefaultMax-DefaultMin+1 {
		t.Fatalf("expected every rate in range to appear, saw %v", seen)
	}
}

func TestDrawUsesSource(t *testing.T) {
	src := fixedSource{0, 2, 5}
	g := Generator{Min: 1, Max: 6, Rand: &src}
	rates, err := g.Draw(3)
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	want := []int{1, 3, 6}
	for i := range want {
		if rates[i] != want[i] {
			t.Fatalf("rates = %v, want %v", rates, want)
		}
	}
}

func TestDrawInvalid(t *testing.T) {
	_, err := Generator{Min: 0, Max: 0}.Draw(3)
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("Draw with invalid range: err = %v", err)
	}
}
