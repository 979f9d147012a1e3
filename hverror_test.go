package hypervisor

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestHVError(t *testing.T) {
	tests := []struct {
		name     string
		code     uint32
		expected string
	}{
		{
			name:     "HV_SUCCESS",
			code:     HV_SUCCESS,
			expected: "hv: success",
		},
		{
			name:     "HV_ERROR",
			code:     HV_ERROR,
			expected: "hv: general error (HV_ERROR)",
		},
		{
			name:     "HV_BUSY",
			code:     HV_BUSY,
			expected: "hv: resource busy (HV_BUSY) - another hart holds the resource",
		},
		{
			name:     "HV_STACK_FULL",
			code:     HV_STACK_FULL,
			expected: "hv: page stack full (HV_STACK_FULL) - limit reached and growth not permitted",
		},
		{
			name:     "HV_STACK_EMPTY",
			code:     HV_STACK_EMPTY,
			expected: "hv: page stack empty (HV_STACK_EMPTY) - no free physical pages",
		},
		{
			name:     "HV_PROTOCOL",
			code:     HV_PROTOCOL,
			expected: "hv: boot protocol violation (HV_PROTOCOL) - hart parked",
		},
		{
			name:     "Unknown error code",
			code:     0x12345678,
			expected: "hv: unknown error code 0x12345678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HVError{Code: tt.code}
			got := err.Error()
			if got != tt.expected {
				t.Errorf("HVError{Code: 0x%08x}.Error() = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}

func TestHVErrorSanitized(t *testing.T) {
	t.Setenv("HV_ENV", "production")

	got := HVError{Code: HV_INTEGRITY}.Error()
	if got != "hv: integrity failure" {
		t.Errorf("sanitized HV_INTEGRITY = %q", got)
	}
	if strings.Contains(HVError{Code: HV_BAD_ARGUMENT}.Error(), "alignment") {
		t.Error("sanitized message should not carry details")
	}

	// Custom messages are never rewritten.
	if got := ErrStackEmpty.Error(); got != "hv: page stack empty" {
		t.Errorf("ErrStackEmpty.Error() = %q", got)
	}
}

func TestHVErrorDebugDisabled(t *testing.T) {
	t.Setenv("HV_ENV", "")
	t.Setenv("HV_DEBUG", "false")
	if !isProductionEnv() {
		t.Error("HV_DEBUG=false should select sanitized errors")
	}
	t.Setenv("HV_DEBUG", "true")
	if isProductionEnv() {
		t.Error("HV_DEBUG=true should select detailed errors")
	}
}

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("failed to seed page 0x%x: %w", 0x80100000, ErrStackFull)
	if !errors.Is(wrapped, ErrStackFull) {
		t.Error("errors.Is should see through wrapping")
	}
	if errors.Is(wrapped, ErrStackEmpty) {
		t.Error("distinct sentinels must not match")
	}

	var hv *HVError
	if !errors.As(wrapped, &hv) || hv.Code != HV_STACK_FULL {
		t.Errorf("errors.As() = %v, want code HV_STACK_FULL", hv)
	}

	codes := map[*HVError]uint32{
		ErrBadPageAddress:    HV_BAD_ARGUMENT,
		ErrHeapExhausted:     HV_NO_RESOURCES,
		ErrHeapNotInUse:      HV_BAD_ARGUMENT,
		ErrTooManyHarts:      HV_NO_RESOURCES,
		ErrNotInTrap:         HV_ILLEGAL_STATE,
		ErrNestedTrap:        HV_ILLEGAL_STATE,
		ErrHartBusy:          HV_BUSY,
		ErrProtocolViolation: HV_PROTOCOL,
		ErrIntegrity:         HV_INTEGRITY,
	}
	for err, code := range codes {
		if err.Code != code {
			t.Errorf("%v has code 0x%08x, want 0x%08x", err, err.Code, code)
		}
	}
}

func TestErrorConstants(t *testing.T) {
	expectedCodes := map[string]uint32{
		"HV_SUCCESS":       0x00000000,
		"HV_ERROR":         0x48560001,
		"HV_BUSY":          0x48560002,
		"HV_BAD_ARGUMENT":  0x48560003,
		"HV_ILLEGAL_STATE": 0x48560004,
		"HV_NO_RESOURCES":  0x48560005,
		"HV_STACK_FULL":    0x48560006,
		"HV_STACK_EMPTY":   0x48560007,
		"HV_PROTOCOL":      0x48560008,
		"HV_INTEGRITY":     0x48560009,
	}

	actualCodes := map[string]uint32{
		"HV_SUCCESS":       HV_SUCCESS,
		"HV_ERROR":         HV_ERROR,
		"HV_BUSY":          HV_BUSY,
		"HV_BAD_ARGUMENT":  HV_BAD_ARGUMENT,
		"HV_ILLEGAL_STATE": HV_ILLEGAL_STATE,
		"HV_NO_RESOURCES":  HV_NO_RESOURCES,
		"HV_STACK_FULL":    HV_STACK_FULL,
		"HV_STACK_EMPTY":   HV_STACK_EMPTY,
		"HV_PROTOCOL":      HV_PROTOCOL,
		"HV_INTEGRITY":     HV_INTEGRITY,
	}

	for name, expected := range expectedCodes {
		actual, exists := actualCodes[name]
		if !exists {
			t.Errorf("Missing constant %s", name)
			continue
		}
		if actual != expected {
			t.Errorf("Constant %s = 0x%08x, want 0x%08x", name, actual, expected)
		}
	}
}
