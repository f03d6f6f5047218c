package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePipeResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Result
	}{
		{
			name: "successful order entry",
			raw:  "100|Order placed successfully|BSE12345",
			want: Result{
				Success: true,
				Code:    "100",
				Message: "Order placed successfully",
				Data:    []string{"BSE12345"},
			},
		},
		{
			name: "rejection",
			raw:  "101|Insufficient balance in client account",
			want: Result{
				Success: false,
				Code:    "101",
				Message: "Insufficient balance in client account",
			},
		},
		{
			name: "session token response",
			raw:  "100|SESSIONTOKEN123",
			want: Result{
				Success: true,
				Code:    "100",
				Message: "SESSIONTOKEN123",
			},
		},
		{
			name: "code only",
			raw:  "102",
			want: Result{
				Success: false,
				Code:    "102",
			},
		},
		{
			name: "trims whitespace",
			raw:  " 100 | Order placed successfully | BSE12345 ",
			want: Result{
				Success: true,
				Code:    "100",
				Message: "Order placed successfully",
				Data:    []string{"BSE12345"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePipeResult(tt.raw))
		})
	}
}

func TestResultOrderNumber(t *testing.T) {
	success := ParsePipeResult("100|Order placed successfully|BSE12345")
	assert.Equal(t, "BSE12345", success.OrderNumber())

	rejected := ParsePipeResult("101|Insufficient balance|BSE12345")
	assert.Equal(t, "", rejected.OrderNumber(), "order number only meaningful on success")

	noData := ParsePipeResult("100|ok")
	assert.Equal(t, "", noData.OrderNumber())
}

func TestIsSuccessCode(t *testing.T) {
	assert.True(t, IsSuccessCode("100"))
	assert.False(t, IsSuccessCode("101"))
	assert.False(t, IsSuccessCode(""))
	assert.False(t, IsSuccessCode("200"))
}
