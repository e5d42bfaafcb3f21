// Package apierr normalizes every failure the datafront can observe into a
// single error shape with a kind, a code and a message.
//
// Retriable errors (connection loss, timeouts, server-signaled TRY_AGAIN) leave
// the failed operation re-triggerable and carry a Retry callback once bound to
// the operation. Fatal errors (INVALID_ARGUMENT, UNAUTHORIZED, NOT_FOUND and
// anything unrecognized) stay until the caller retries explicitly.
//
// Unrecognized server errors are normalized to code UNKNOWN with the
// placeholder message "unexpected error". The original error is kept as the
// cause and reachable through errors.Unwrap.
package apierr
