// Package action implements token-keyed server mutations.
//
// Every execution of an action is identified by an idempotency token minted
// by the caller (see NewToken). For each token:
//
//   - at most one execution is in flight; Run on a pending token is a no-op
//   - after success the token is consumed and Run stays a no-op
//   - a retriable failure re-arms the token, and the error's Retry callback
//     re-runs it with the same token and payload
//   - a fatal failure consumes the token
//
// Handles on the same token share its state. To run an action again after it
// succeeded, bind the handle to a fresh token with SetToken.
//
// Token state is kept for the lifetime of the action and is never swept.
package action
