package validator

import (
	"math"
	"testing"
	"time"
)

func TestCoerceValue(t *testing.T) {
	ts := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "string", in: "x", want: "x"},
		{name: "bool", in: true, want: true},
		{name: "int64", in: int64(9), want: int64(9)},
		{name: "float", in: 1.5, want: 1.5},
		{name: "binary to hex", in: []byte{0xab, 0xcd}, want: "abcd"},
		{name: "nan to nil", in: math.NaN(), want: nil},
		{name: "positive inf to nil", in: math.Inf(1), want: nil},
		{name: "negative inf to nil", in: math.Inf(-1), want: nil},
		{name: "float32 widened", in: float32(2), want: float64(2)},
		{name: "time to iso", in: ts, want: "2025-08-01T12:00:00Z"},
		{name: "fallback stringified", in: complex(1, 2), want: "(1+2i)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceValue(tt.in)
			if got != tt.want {
				t.Fatalf("coerceValue(%v) = %v (%T), want %v", tt.in, got, got, tt.want)
			}
		})
	}
}

func TestCoerceResult(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		wantOK  bool
		wantMsg any
	}{
		{name: "bool true", in: true, wantOK: true, wantMsg: nil},
		{name: "bool false", in: false, wantOK: false, wantMsg: nil},
		{name: "string is a failure message", in: "price mismatch", wantOK: false, wantMsg: "price mismatch"},
		{name: "object with truthy ok", in: map[string]any{"ok": true, "msg": "fine"}, wantOK: true, wantMsg: "fine"},
		{name: "object without ok key", in: map[string]any{"msg": "m"}, wantOK: false, wantMsg: "m"},
		{name: "object with numeric ok", in: map[string]any{"ok": 1}, wantOK: true, wantMsg: nil},
		{name: "object with zero ok", in: map[string]any{"ok": 0}, wantOK: false, wantMsg: nil},
		{name: "nil return invalid", in: nil, wantOK: false, wantMsg: "invalid return type: <nil>"},
		{name: "numeric return invalid", in: 42, wantOK: false, wantMsg: "invalid return type: int"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceResult(tt.in)
			if got.OK != tt.wantOK || got.Msg != tt.wantMsg {
				t.Fatalf("coerceResult(%v) = %+v, want ok=%v msg=%v", tt.in, got, tt.wantOK, tt.wantMsg)
			}
		})
	}
}

func TestCoerceResultSplitsExtras(t *testing.T) {
	got := coerceResult(map[string]any{
		"ok":       true,
		"msg":      "m",
		"delta":    0.5,
		"wawi_fix": "UPDATE ...",
	})
	if !got.OK || got.Msg != "m" {
		t.Fatalf("base fields = %+v", got)
	}
	if len(got.Extra) != 2 || got.Extra["delta"] != 0.5 || got.Extra["wawi_fix"] != "UPDATE ..." {
		t.Fatalf("extra = %v", got.Extra)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{in: nil, want: false},
		{in: false, want: false},
		{in: true, want: true},
		{in: "", want: false},
		{in: "x", want: true},
		{in: 0, want: false},
		{in: 3, want: true},
		{in: float64(0), want: false},
		{in: 0.1, want: true},
		{in: map[string]any{}, want: true},
	}
	for _, tt := range tests {
		if got := truthy(tt.in); got != tt.want {
			t.Fatalf("truthy(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
