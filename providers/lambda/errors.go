package lambda

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/sandflow/sandflow/types"
)

// mapAWSError folds SDK failures onto the shared taxonomy. Responses
// with an HTTP status go through the same classification table as the
// REST backends; fault-only errors fall back to the smithy fault side.
func mapAWSError(err error, operation string) *types.FlowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewFlowError("request_timeout",
			fmt.Sprintf("lambda %s timed out", operation),
			types.CategoryConnection).
			WithDetail("endpoint", operation).
			WithCause(err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return types.FromHTTPStatus("lambda_error",
			respErr.HTTPStatusCode(), respErr.HTTPResponse().Status, operation).
			WithCause(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		category := types.CategoryAPI
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			category = types.CategoryQuota
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException":
			category = types.CategoryAuthentication
		default:
			if apiErr.ErrorFault() == smithy.FaultServer {
				category = types.CategoryConnection
			}
		}
		return types.NewFlowError("lambda_error",
			fmt.Sprintf("lambda %s failed: %s", operation, apiErr.ErrorMessage()),
			category).
			WithDetail("endpoint", operation).
			WithDetail("aws_code", apiErr.ErrorCode()).
			WithCause(err)
	}

	return types.NewFlowError("lambda_error",
		fmt.Sprintf("lambda %s failed", operation),
		types.CategoryConnection).
		WithDetail("endpoint", operation).
		WithCause(err)
}

// isNotFound reports whether the SDK error is a missing-function
// response.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ResourceNotFoundException"
}
