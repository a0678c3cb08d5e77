/*
Package strategy defines the contract every retrieval backend implements
and the registry the orchestrator selects them from.

A strategy wraps one retrieval primitive behind a uniform capability set:

  - tokens: hash-based set-overlap search against a token table, the
    fallback for encrypted fields
  - vector: embedding plus approximate-nearest-neighbor search
  - fulltext: pluggable full-text engine with per-tenant indexes

Strategies signal failures through two channels: ErrUnavailable for
transient backend outages and Error for operation failures. The
orchestrator treats both as per-strategy failures and never lets one
strategy break the others.

Subpackages token, vector, and fulltext hold the concrete strategies;
their storage backends live under pkg/driver.
*/
package strategy
