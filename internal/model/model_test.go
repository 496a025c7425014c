package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidDisplayName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"my-laptop", true},
		{"Office Printer", true},
		{"host42", true},
		{"", false},
		{"192.168.1.1", false},                            // IPv4 literal
		{"fe80::1", false},                                // IPv6 literal
		{"2001:db8::1", false},                            // IPv6 literal
		{"34887b21-9413-022c-352a-67966809b46c", false},   // UUID
		{"34887B21-9413-022C-352A-67966809B46C", false},   // UUID, uppercase
		{"999.999.999.999", true},   // octets not parseable as u8
		{"printer.example.com", true},
		{"256.1.1.1", true}, // not parseable as four u8 octets
		{"1.2.3", true},     // only three octets
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidDisplayName(tt.name))
		})
	}
}

func TestCharacterizeLattice(t *testing.T) {
	got := Characterize(
		Characterized[string]{Value: "pattern", Source: SourcePatternMatched},
		Characterized[string]{Value: "network", Source: SourceNetworkInferred},
		Characterized[string]{Value: "device", Source: SourceDeviceReported},
		Characterized[string]{Value: "user", Source: SourceUserSet},
	)
	assert.Equal(t, "user", got.Value)
	assert.Equal(t, SourceUserSet, got.Source)
}

func TestCharacterizeTieBreaksByDeclarationOrder(t *testing.T) {
	got := Characterize(
		Characterized[string]{Value: "first", Source: SourcePatternMatched},
		Characterized[string]{Value: "second", Source: SourcePatternMatched},
	)
	assert.Equal(t, "first", got.Value)
}

func TestCharacterizeSkipsEmpty(t *testing.T) {
	got := Characterize(
		Characterized[string]{}, // SourceNone
		Characterized[string]{Value: "network", Source: SourceNetworkInferred},
	)
	assert.Equal(t, "network", got.Value)

	none := Characterize[string]()
	assert.Equal(t, SourceNone, none.Source)
}

func TestDataSourceOrdering(t *testing.T) {
	assert.True(t, SourceUserSet > SourceDeviceReported)
	assert.True(t, SourceDeviceReported > SourceNetworkInferred)
	assert.True(t, SourceNetworkInferred > SourcePatternMatched)
	assert.True(t, SourcePatternMatched > SourceNone)

	assert.Equal(t, "UserSet", SourceUserSet.String())
	assert.Equal(t, "PatternMatched", SourcePatternMatched.String())
}
