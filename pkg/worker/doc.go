/*
Package worker consumes the indexing queues and applies jobs to the
search strategies.

Workers are stateless: every job carries its own scope and the worker
resolves the current row from the primary store at execution time, so a
record that changed twice while queued is indexed at its latest state.
Jobs route by type:

	index        load the row, run the entity hooks, write one record
	delete       remove one record from the queue's strategies
	batch-index  index each record independently, heartbeating between
	purge        drop every record of an entity within a tenant

The vector queue additionally refreshes the embedding provider
configuration from the module-config store before each job, so operators
can rotate API keys or switch providers without restarting workers.

Failure handling follows one rule: configuration problems and missing
rows are skipped with a log line, real backend failures are returned to
the queue for redelivery.
*/
package worker
