package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "QUAL A ALTURA MAXIMA NO BAIRRO PETROPOLIS", Fold("Qual a altura máxima no bairro Petrópolis?"))
	assert.Equal(t, "PASSO D'AREIA", Fold("  passo   d'areia "))
	assert.Equal(t, "SAO JOAO", Fold("São João"))
}

func TestNeighborhoodKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Petrópolis", "PETROPOLIS"},
		{"PETROPOLIS", "PETROPOLIS"},
		{"bairro Petrópolis", "PETROPOLIS"},
		{"no bairro Três Figueiras", "TRES FIGUEIRAS"},
		{"Cel. Aparicio Borges", "CEL APARICIO BORGES"},
		{"  chácara das  pedras ", "CHACARA DAS PEDRAS"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NeighborhoodKey(tt.in))
		})
	}
}

func TestZoneCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ZOT 07", "ZOT 07", true},
		{"zot7", "ZOT 07", true},
		{"ZOT-07", "ZOT 07", true},
		{"zona 12", "ZOT 12", true},
		{"ZOT 8.2", "ZOT 08.2", true},
		{"ZOT 08.3-A", "ZOT 08.3-A", true},
		{"ZOT 08.3 - C", "ZOT 08.3-C", true},
		{"ZOT 08.3B", "ZOT 08.3-B", true},
		{"Petrópolis", "", false},
		{"ZOT", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ZoneCode(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryKeyFoldsCaseAndWhitespace(t *testing.T) {
	a := QueryKey("Qual a ALTURA   máxima\tno bairro Petrópolis?")
	b := QueryKey("qual a altura máxima no bairro petrópolis?")
	assert.Equal(t, a, b)
	assert.Equal(t, HashKey(a), HashKey(b))
	assert.Len(t, HashKey(a), 64)
}
