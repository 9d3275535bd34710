// Package streamhttp implements a streamable HTTP transport for JSON-RPC 2.0 based
// request/response protocols. It supports two interaction modes: a stateful mode where
// a client holds a long-lived session across multiple requests, and a stateless mode
// where every request is self-contained.
//
// The package centers on two managers. StatefulManager owns a registry of live sessions,
// each binding one protocol engine to one transport channel, and reclaims idle sessions
// through a periodic sweep. StatelessManager processes exactly one exchange per call and
// defers resource teardown until the response stream has been fully drained.
package streamhttp
