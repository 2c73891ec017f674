package endpoints

import (
	"context"
	"errors"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/realtime"
)

const (
	API_SUCCESS      = iota + 303000 // 303000
	API_FAILURE                      // 303001 - Generic API failure
	API_UNAUTHORIZED                 // 303002 - Authentication/Authorization failure
)

const (
	INVALID_REQUEST_BODY = iota + 102 // 102 - Error parsing request body
	INVALID_PARAMETERS                // 103 - Invalid URL query parameters (family, limit)
	INVALID_TIME_RANGE                // 104 - minutes/hours window not positive or above 30 days
	REQUEST_CANCELLED                 // 105 - Request was cancelled by client or server timeout
	INVALID_SAMPLE                    // 106 - Body parsed but sample failed validation
	BACKEND_UNAVAILABLE               // 107 - Neither cache nor store could serve the read
	STORAGE_UNAVAILABLE               // 108 - Durable store unreachable
	SUBSCRIBER_LIMIT                  // 109 - Realtime hub full or shutting down
)

var (
	ErrInvalidRequestBody = errors.New("invalid request body format")
	ErrInvalidParameters  = errors.New("invalid query parameter")
	ErrInvalidTimeRange   = errors.New("time window must be a positive integer no larger than 30 days")
	ErrRequestCancelled   = errors.New("request cancelled by client or server timeout")
)

func GetErrorCode(err error) int {
	if err == nil {
		return API_SUCCESS
	}

	switch {
	case errors.Is(err, ErrInvalidRequestBody):
		return INVALID_REQUEST_BODY
	case errors.Is(err, ErrInvalidParameters):
		return INVALID_PARAMETERS
	case errors.Is(err, ErrInvalidTimeRange):
		return INVALID_TIME_RANGE
	case errors.Is(err, ErrRequestCancelled), errors.Is(err, context.Canceled):
		return REQUEST_CANCELLED
	case errors.Is(err, domain.ErrInvalidSample):
		return INVALID_SAMPLE
	case errors.Is(err, domain.ErrBackendUnavailable):
		return BACKEND_UNAVAILABLE
	case errors.Is(err, domain.ErrStorageUnavailable):
		return STORAGE_UNAVAILABLE
	case errors.Is(err, realtime.ErrSubscriberLimit), errors.Is(err, realtime.ErrHubClosed):
		return SUBSCRIBER_LIMIT
	default:
		return API_FAILURE // Default for any unhandled error
	}
}
