package hypervisor

import (
	"fmt"
	"os"
	"strconv"
)

// Status codes carried by HVError.
const (
	HV_SUCCESS       uint32 = 0x00000000
	HV_ERROR         uint32 = 0x48560001
	HV_BUSY          uint32 = 0x48560002
	HV_BAD_ARGUMENT  uint32 = 0x48560003
	HV_ILLEGAL_STATE uint32 = 0x48560004
	HV_NO_RESOURCES  uint32 = 0x48560005
	HV_STACK_FULL    uint32 = 0x48560006
	HV_STACK_EMPTY   uint32 = 0x48560007
	HV_PROTOCOL      uint32 = 0x48560008
	HV_INTEGRITY     uint32 = 0x48560009
)

// HVError wraps a hypervisor core status code.
type HVError struct {
	Code    uint32
	message string // Optional custom message for specific errors
}

func (e HVError) Error() string {
	// Use custom message if available
	if e.message != "" {
		return e.message
	}

	// Security: Check if we should sanitize error messages
	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// detailedError provides full error context for development
func (e HVError) detailedError() string {
	switch e.Code {
	case HV_SUCCESS:
		return "hv: success"
	case HV_ERROR:
		return "hv: general error (HV_ERROR)"
	case HV_BUSY:
		return "hv: resource busy (HV_BUSY) - another hart holds the resource"
	case HV_BAD_ARGUMENT:
		return "hv: invalid argument (HV_BAD_ARGUMENT) - check alignment and ranges"
	case HV_ILLEGAL_STATE:
		return "hv: illegal hart state (HV_ILLEGAL_STATE) - operation not valid in the current trap state"
	case HV_NO_RESOURCES:
		return "hv: insufficient resources (HV_NO_RESOURCES) - slab or heap space exhausted"
	case HV_STACK_FULL:
		return "hv: page stack full (HV_STACK_FULL) - limit reached and growth not permitted"
	case HV_STACK_EMPTY:
		return "hv: page stack empty (HV_STACK_EMPTY) - no free physical pages"
	case HV_PROTOCOL:
		return "hv: boot protocol violation (HV_PROTOCOL) - hart parked"
	case HV_INTEGRITY:
		return "hv: per-hart integrity check failed (HV_INTEGRITY) - stack canary or magic overwritten"
	default:
		return fmt.Sprintf("hv: unknown error code 0x%08x", e.Code)
	}
}

// sanitizedError provides minimal error information for production
func (e HVError) sanitizedError() string {
	switch e.Code {
	case HV_SUCCESS:
		return "hv: success"
	case HV_ERROR:
		return "hv: general error"
	case HV_BUSY:
		return "hv: resource busy"
	case HV_BAD_ARGUMENT:
		return "hv: invalid argument"
	case HV_ILLEGAL_STATE:
		return "hv: illegal hart state"
	case HV_NO_RESOURCES:
		return "hv: insufficient resources"
	case HV_STACK_FULL:
		return "hv: page stack full"
	case HV_STACK_EMPTY:
		return "hv: page stack empty"
	case HV_PROTOCOL:
		return "hv: protocol violation"
	case HV_INTEGRITY:
		return "hv: integrity failure"
	default:
		return "hv: hypervisor error"
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("HV_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("HV_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

// Common specific errors for API consumers. Compare with errors.Is.
var (
	ErrStackFull         = &HVError{Code: HV_STACK_FULL, message: "hv: page stack full"}
	ErrStackEmpty        = &HVError{Code: HV_STACK_EMPTY, message: "hv: page stack empty"}
	ErrBadPageAddress    = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: physical address not page-aligned"}
	ErrBadStackLimit     = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: page stack limit out of range"}
	ErrBadAddress        = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: physical address outside RAM"}
	ErrBadAlignment      = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: alignment must be a power of two"}
	ErrBadDuration       = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: duration negative or out of timer range"}
	ErrInvalidRegister   = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: invalid register"}
	ErrInvalidCSR        = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: invalid control register"}
	ErrInvalidConfig     = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: invalid machine configuration"}
	ErrInvalidHart       = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: no such hart"}
	ErrHeapExhausted     = &HVError{Code: HV_NO_RESOURCES, message: "hv: hart heap exhausted"}
	ErrHeapNotInUse      = &HVError{Code: HV_BAD_ARGUMENT, message: "hv: heap block not allocated"}
	ErrTooManyHarts      = &HVError{Code: HV_NO_RESOURCES, message: "hv: more harts than slabs"}
	ErrNotInTrap         = &HVError{Code: HV_ILLEGAL_STATE, message: "hv: not inside the trap dispatcher"}
	ErrNestedTrap        = &HVError{Code: HV_ILLEGAL_STATE, message: "hv: trap raised inside the trap dispatcher"}
	ErrInTrap            = &HVError{Code: HV_ILLEGAL_STATE, message: "hv: operation not valid inside the trap dispatcher"}
	ErrInterruptsMasked  = &HVError{Code: HV_ILLEGAL_STATE, message: "hv: interrupt left pending, interrupts masked"}
	ErrHartParked        = &HVError{Code: HV_ILLEGAL_STATE, message: "hv: hart is parked"}
	ErrHartBusy          = &HVError{Code: HV_BUSY, message: "hv: hart already has work assigned"}
	ErrProtocolViolation = &HVError{Code: HV_PROTOCOL, message: "hv: global initialization reached by non-boot hart"}
	ErrIntegrity         = &HVError{Code: HV_INTEGRITY, message: "hv: hart slab integrity check failed"}
	ErrSystemClosed      = &HVError{Code: HV_ERROR, message: "hv: system is closed"}
)
