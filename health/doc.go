// Package health aggregates the health of the acquisition roles and output
// files into one Status tree.
//
// Each role (acquisition, processing, file output, slow controls) and each
// output file reports a Status. A Monitor keeps the latest Status per name
// and AggregateHealth folds them with these rules:
//
//   - any unhealthy sub-status makes the aggregate unhealthy
//   - otherwise any degraded sub-status makes it degraded
//   - otherwise it is healthy
//
// An output file marked errored is degraded: the other files keep writing.
// A role that terminated before shutdown is unhealthy.
//
// Error text placed in Status messages is sanitized so paths, addresses and
// credentials do not leak through the /healthz endpoint.
package health
