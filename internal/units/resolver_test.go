package units

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversionFactor(t *testing.T) {
	svc := NewService(nil, nil)

	tests := []struct {
		from, to string
		decimals int
		want     float64
	}{
		{"mm", "m", -1, 0.001},
		{"m", "mm", -1, 1000},
		{"km", "m", -1, 1000},
		{"MPa", "GPa", -1, 0.001},
		{QUDTUnitBase + "MilliM", "cm", -1, 0.1},
		{"in", "cm", 2, 2.54},
		{"min", "h", 3, 0.017},
	}
	for _, tt := range tests {
		got, err := svc.ConversionFactor(tt.from, tt.to, tt.decimals)
		require.NoError(t, err, "%s -> %s", tt.from, tt.to)
		assert.InDelta(t, tt.want, got, 1e-9, "%s -> %s", tt.from, tt.to)
	}
}

func TestConversionFactorErrors(t *testing.T) {
	svc := NewService(nil, nil)

	_, err := svc.ConversionFactor("m", "kg", -1)
	assert.ErrorIs(t, err, ErrIncompatibleUnit)

	_, err = svc.ConversionFactor("furlong", "m", -1)
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestUnitFor(t *testing.T) {
	owner := uuid.New()
	src := SourceFunc(func(id uuid.UUID, property string) ([]Unit, error) {
		switch property {
		case "width":
			return []Unit{{Symbol: "mm"}}, nil
		case "both":
			return []Unit{{Symbol: "mm"}, {Symbol: "m"}}, nil
		}
		return nil, nil
	})
	svc := NewService(src, nil)

	u, err := svc.UnitFor(owner, "width")
	require.NoError(t, err)
	assert.Equal(t, Unit{Symbol: "mm", IRI: QUDTUnitBase + "MilliM"}, u)

	_, err = svc.UnitFor(owner, "height")
	assert.ErrorIs(t, err, ErrNoUnit)

	_, err = svc.UnitFor(owner, "both")
	assert.ErrorIs(t, err, ErrAmbiguousUnit)
}

func TestCatalogExtraOverrides(t *testing.T) {
	c := NewCatalog(Definition{Name: "FURLONG", Symbol: "fur", Kind: "Length", Multiplier: 201.168})
	svc := NewService(nil, c)

	got, err := svc.ConversionFactor("fur", "m", 3)
	require.NoError(t, err)
	assert.Equal(t, 201.168, got)
}
