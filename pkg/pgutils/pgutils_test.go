package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"plain error", errors.New("boom"), false},
		{"sqlstate prefix", errors.New(`ERROR: duplicate key value violates unique constraint "edges_src_dst_uq" (SQLSTATE 23505)`), true},
		{"bare code", fmt.Errorf("pq: 23505 duplicate key"), true},
		{"foreign key is not unique", errors.New("SQLSTATE 23503"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestIsRetryableTxError(t *testing.T) {
	assert.True(t, IsRetryableTxError(errors.New("ERROR: could not serialize access (SQLSTATE 40001)")))
	assert.True(t, IsRetryableTxError(errors.New("deadlock detected (SQLSTATE 40P01)")))
	assert.False(t, IsRetryableTxError(errors.New("SQLSTATE 23505")))
	assert.False(t, IsRetryableTxError(nil))
}

func TestFormatVector(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want string
	}{
		{"empty", nil, "[]"},
		{"single", []float32{0.5}, "[0.5]"},
		{"multiple", []float32{0.1, 0.2, 0.3}, "[0.1,0.2,0.3]"},
		{"negative", []float32{-1, 0, 1}, "[-1,0,1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatVector(tt.in))
		})
	}
}
