package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/ngoyal88/costrelay/pkg/cost"
)

// Error codes Cost Explorer returns for requests it will never accept as sent.
var rejectedCodes = map[string]struct{}{
	"ValidationException":            {},
	"BillExpirationException":        {},
	"InvalidNextTokenException":      {},
	"RequestChangedException":        {},
	"UnresolvableUsageUnitException": {},
}

// classify maps an error from the upstream call onto the cost error kinds.
// Anything that is not a rejection of the request itself is treated as the
// provider being unavailable: throttling, missing data, auth, network and
// deadline failures.
func classify(err error) error {
	var (
		bill    *types.BillExpirationException
		token   *types.InvalidNextTokenException
		changed *types.RequestChangedException
		unit    *types.UnresolvableUsageUnitException
	)
	switch {
	case errors.As(err, &bill), errors.As(err, &token), errors.As(err, &changed), errors.As(err, &unit):
		return fmt.Errorf("%w: %v", cost.ErrInvalidQuery, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: request timed out: %v", cost.ErrUpstreamUnavailable, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := rejectedCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %s: %s", cost.ErrInvalidQuery, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("%w: %s: %s", cost.ErrUpstreamUnavailable, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%w: %v", cost.ErrUpstreamUnavailable, err)
}
