/*
Package api serves Ferry's HTTP surface.

Routing is chi with a small middleware stack: request metrics, panic
recovery, and tenant authentication. Callers authenticate with either an
organization API key in X-API-Key or an HS256 bearer token carrying the
organization id; both resolve to the organization that scopes every
handler. Mutating endpoints write an audit row.

Endpoints:

	GET  /healthz            liveness, no auth
	GET  /metrics            Prometheus exposition, no auth
	POST /v1/executions      submit an execution (202)
	GET  /v1/executions      list the caller's executions
	GET  /v1/executions/{id} fetch one execution
	POST /v1/agents          register or update an agent definition
	GET  /v1/clusters        list the caller's clusters
*/
package api
