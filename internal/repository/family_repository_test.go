package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDepartment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"302", "302"},
		{"Depto 302", "302"},
		{"Depto. 302-B", "302b"},
		{"departamento 1104", "1104"},
		{"#302 b", "302b"},
		{"  Apto 12  ", "12"},
		{"N° 45", "45"},
		{"Torre A - 502", "torrea502"},
		{"", ""},
		{"depto", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDepartment(tt.in))
		})
	}
}
