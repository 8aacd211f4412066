package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBagTypedAccessorsDefaults(t *testing.T) {
	b := NewBag()
	assert.Equal(t, true, b.GetBool(Ignition, true))
	assert.Equal(t, int64(5), b.GetInt(Satellites, 5))
	assert.Equal(t, 1.5, b.GetFloat(FuelLevel, 1.5))
	assert.Equal(t, "n/a", b.GetString(FirmwareVersion, "n/a"))
}

func TestBagTypedAccessorsCoercion(t *testing.T) {
	b := NewBag().SetInt(Satellites, 11).SetFloat(Power, 14.07).SetBool(Ignition, false)
	assert.Equal(t, int64(11), b.GetInt(Satellites, 0))
	assert.Equal(t, 14.07, b.GetFloat(Power, 0))
	assert.False(t, b.GetBool(Ignition, true))
	// int coerces to bool
	b.SetInt("flag", 1)
	assert.True(t, b.GetBool("flag", false))
}

func TestBagStringSetRoundTrip(t *testing.T) {
	b := NewBag().SetStringList(GeofenceIDs, []string{"a", "b", "c"})
	set := b.GetStringSet(GeofenceIDs)
	assert.Len(t, set, 3)
	_, ok := set["b"]
	assert.True(t, ok)
}

func TestBagValueScanRoundTrip(t *testing.T) {
	b := NewBag().SetFloat(SpeedLimit, 80).SetBool(AlertEnabled, true).SetStringList(GeofenceIDs, []string{"g1"})

	raw, err := b.Value()
	assert.NoError(t, err)

	var out Bag
	assert.NoError(t, out.Scan(raw))
	assert.Equal(t, 80.0, out.GetFloat(SpeedLimit, 0))
	assert.True(t, out.GetBool(AlertEnabled, false))
	assert.Equal(t, map[string]struct{}{"g1": {}}, out.GetStringSet(GeofenceIDs))
}

func TestBagScanNil(t *testing.T) {
	var b Bag
	assert.NoError(t, b.Scan(nil))
	assert.NotNil(t, b)
	assert.Len(t, b, 0)
}
