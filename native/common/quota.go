package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaStartsExceeded   = errors.New("quota pipeline starts exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an owner.
type QuotaNow struct {
	ReqCount uint32
	Starts   uint32
	WindowID uint64
}

// Quota defines the limits enforced per owner: intent requests and pipeline
// starts per time window.
type Quota struct {
	MaxRequestsPerWindow uint32
	MaxStartsPerWindow   uint32
	WindowSeconds        uint32
}

// CheckQuota verifies whether the additional requests and pipeline starts fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded; on denial the previous counters
// are returned unchanged.
func CheckQuota(q Quota, nowWindow uint64, prev QuotaNow, addReq, addStarts uint32) (QuotaNow, error) {
	next := prev
	if prev.WindowID != nowWindow {
		next = QuotaNow{WindowID: nowWindow}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerWindow > 0 && next.ReqCount > q.MaxRequestsPerWindow {
		return prev, ErrQuotaRequestsExceeded
	}

	if addStarts > 0 {
		if next.Starts > math.MaxUint32-addStarts {
			return prev, ErrQuotaCounterOverflow
		}
		next.Starts += addStarts
	}
	if q.MaxStartsPerWindow > 0 && next.Starts > q.MaxStartsPerWindow {
		return prev, ErrQuotaStartsExceeded
	}

	return next, nil
}
