package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b Coordinate
		want float64
		tol  float64
	}{
		{"coincident", Coordinate{10, 106}, Coordinate{10, 106}, 0, 0},
		{"0.001 deg north", Coordinate{10, 106}, Coordinate{10.001, 106}, 111.19, 0.5},
		{"one degree on the equator", Coordinate{0, 0}, Coordinate{0, 1}, 111194.9, 1},
		{"pole to pole", Coordinate{90, 0}, Coordinate{-90, 0}, math.Pi * EarthRadiusMeters, 1},
		{"across the antimeridian", Coordinate{0, 179.9995}, Coordinate{0, -179.9995}, 111.19, 0.5},
		{"antipodes", Coordinate{0, 0}, Coordinate{0, 180}, math.Pi * EarthRadiusMeters, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			require.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, tt.tol)
		})
	}
}

func TestDistanceMeters_SymmetricAndZero(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		a := Coordinate{r.Float64()*180 - 90, r.Float64()*360 - 180}
		b := Coordinate{r.Float64()*180 - 90, r.Float64()*360 - 180}

		assert.Equal(t, 0.0, DistanceMeters(a, a))
		assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 1e-6)
		assert.False(t, math.IsNaN(DistanceMeters(a, b)))
	}
}

func TestWithinRadius(t *testing.T) {
	user := Coordinate{10.0000, 106.0000}
	event := Coordinate{10.0010, 106.0000}

	assert.False(t, WithinRadius(user, event, 100))
	assert.True(t, WithinRadius(user, event, 150))

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		u := Coordinate{10 + r.Float64()*0.01, 106 + r.Float64()*0.01}
		radius := r.Float64() * 2000
		assert.Equal(t, DistanceMeters(u, event) <= radius, WithinRadius(u, event, radius))
	}
}

func TestLocation_Radius(t *testing.T) {
	assert.Equal(t, DefaultRadiusMeters, Location{}.Radius())
	assert.Equal(t, 250.0, Location{RadiusMeters: 250}.Radius())

	loc := Location{Coordinate: Coordinate{10.001, 106}}
	assert.False(t, loc.Contains(Coordinate{10, 106}))
	assert.True(t, loc.Contains(Coordinate{10.0005, 106}))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Coordinate{90, 180}))
	assert.NoError(t, Validate(Coordinate{-90, -180}))
	assert.Error(t, Validate(Coordinate{90.1, 0}))
	assert.Error(t, Validate(Coordinate{0, -180.5}))
	assert.Error(t, Validate(Coordinate{math.NaN(), 0}))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyEnforce, p)

	p, err = ParsePolicy(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, PolicyWarn, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}
