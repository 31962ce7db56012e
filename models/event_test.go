package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-backend/geo"
)

func ptr(f float64) *float64 { return &f }

func TestEventLocation(t *testing.T) {
	assert.Nil(t, Event{Latitude: ptr(10)}.Location())

	loc := Event{Latitude: ptr(10), Longitude: ptr(106)}.Location()
	require.NotNil(t, loc)
	assert.Equal(t, geo.DefaultRadiusMeters, loc.Radius())

	loc = Event{Latitude: ptr(10), Longitude: ptr(106), RadiusMeters: ptr(250)}.Location()
	require.NotNil(t, loc)
	assert.Equal(t, 250.0, loc.Radius())
}

func TestCheckInSameMint(t *testing.T) {
	a := CheckIn{TokenID: "1", TxRef: "0xa", WalletAddress: "0xw"}
	assert.True(t, a.SameMint(CheckIn{TokenID: "1", TxRef: "0xa", WalletAddress: "0xw", ID: "other"}))
	assert.False(t, a.SameMint(CheckIn{TokenID: "2", TxRef: "0xa", WalletAddress: "0xw"}))
}
