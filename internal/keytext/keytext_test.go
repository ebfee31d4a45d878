package keytext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"my_location", "my location"},
		{"wifeName", "wife name"},
		{"my_wifeName", "my wife name"},
		{"home-address", "home address"},
		{"  padded_key  ", "padded key"},
		{"ALLCAPS", "allcaps"},
		{"", ""},
		{"already plain", "already plain"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.key))
		})
	}
}

func TestBuild(t *testing.T) {
	t.Run("with tags", func(t *testing.T) {
		got := Build("my_location", "Portland, OR", "home address")
		assert.Contains(t, got, "my location")
		assert.Contains(t, got, "my_location")
		assert.Contains(t, got, "Portland, OR")
		assert.Contains(t, got, "home address")
		assert.Equal(t, "my location my_location Portland, OR home address", got)
	})

	t.Run("without tags", func(t *testing.T) {
		got := Build("pet_name", "Rex", "")
		assert.Contains(t, got, "pet name")
		assert.Contains(t, got, "pet_name")
		assert.Contains(t, got, "Rex")
		assert.Equal(t, "pet name pet_name Rex", got)
	})

	t.Run("deterministic", func(t *testing.T) {
		a := Build("wifeName", "Sarah", "family, spouse")
		b := Build("wifeName", "Sarah", "family, spouse")
		assert.Equal(t, a, b)
	})
}
