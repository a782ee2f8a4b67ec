// Package webhook receives GitLab-style webhooks and validates them while
// the body is still streaming in.
//
// # Security Model
//
//   - The shared token header is checked once, on the first body chunk, with
//     a constant-time comparison (internal/auth)
//   - An unconfigured token never validates
//   - Rejected requests get a 400 diagnostic and the connection is dropped
//     without reading the rest of the body
//   - Request logging never includes the token or the payload
//
// # Configuration
//
//	webhook:
//	  listen: "0.0.0.0:8080"
//	  token: ${DGW_WEBHOOK_TOKEN}
//	  token_header: X-Gitlab-Token
//	  event_header: X-Gitlab-Event
//	  max_body_size: 1MB
//	  chunk_size: 32KB
//
// # Request Flow
//
//  1. POST arrives on any path
//  2. First chunk read; token header checked
//  3. Invalid or missing token: 400 echo, connection aborted
//  4. Remaining chunks accumulated up to max_body_size
//  5. 200 echo written
//  6. Body parsed and handed to the Sink on a separate goroutine
//
// A body that is not JSON, or exceeds max_body_size, is still answered 200;
// the sink receives it with ParseErr set and reports it in chat.
package webhook
