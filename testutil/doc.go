// Package testutil provides shared helpers and fixtures for swarmflow tests.
//
// It exists so packages do not re-implement the same test plumbing: bounded
// test contexts, polling assertions for the asynchronous paths, and broker
// fixtures that stand up a fully declared in-memory topology.
//
// Fixtures register their own cleanup on the testing.T, so callers never
// close brokers or stores by hand:
//
//	broker := testutil.NewMemoryBroker(t)
//	results := testutil.ConsumeQueue(t, broker,
//		transport.ResultsQueue("orchestrator"), transport.ResultExchange, "orchestrator")
//	d := testutil.ReceiveDelivery(t, results)
//
// The transport and internal/channel packages cannot import testutil (the
// fixtures are built on them); their tests keep local helpers.
package testutil
