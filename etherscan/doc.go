/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package etherscan provides a rate-limited, retrying dispatcher that serves
// JSON-RPC shaped Ethereum calls over an Etherscan-style HTTP API.
//
// The Provider accepts requests through the HandleRequest pipeline contract,
// queues them FIFO, periodically releases a bounded batch to a per-second rate
// limiter, translates every admitted request into the remote API's
// module/action/query-parameter shape, performs the HTTP call and normalizes
// the response back to the caller's callbacks. Requests rejected by the remote
// rate limit are transparently re-queued. Methods the dispatcher does not
// recognize fall through to the next handler in the pipeline.
package etherscan
