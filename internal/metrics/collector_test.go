package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// promauto registers into the default registry, so every test gets its own
// namespace to avoid duplicate-registration panics.
var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("swarmflowtest%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.tasksAssigned)
	assert.NotNil(t, collector.tasksCompleted)
	assert.NotNil(t, collector.votes)
	assert.NotNil(t, collector.consensusRuns)
	assert.NotNil(t, collector.handlerExecutions)
	assert.NotNil(t, collector.brokerPublishes)
}

func TestNewCollector_NilLogger(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)
	assert.NotNil(t, collector)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/tasks", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/api/v1/tasks", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordTaskLifecycle(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordTaskAssigned("review_code")
	collector.RecordTaskCompleted("success")
	collector.RecordTaskCompleted("error")
	collector.RecordUnknownResult()

	assert.Greater(t, testutil.CollectAndCount(collector.tasksAssigned), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(collector.tasksCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.unknownResults))
}

func TestCollector_RecordVoting(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordVoteRequest()
	collector.RecordVote("recorded")
	collector.RecordVote("recorded")
	collector.RecordVote("duplicate")
	collector.RecordConsensus("success")
	collector.RecordConsensus("tie")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.voteRequests))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.votes.WithLabelValues("recorded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.votes.WithLabelValues("duplicate")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.consensusRuns))
}

func TestCollector_RecordHandlerExecution(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHandlerExecution("security", "success", 1*time.Second)
	collector.RecordHandlerExecution("security", "error", 200*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(collector.handlerExecutions), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.handlerDuration), 0)
}

func TestCollector_RecordBrokerTraffic(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordPublish("task_exchange")
	collector.RecordPublish("vote_exchange")
	collector.RecordDelivery("orchestrator_results_queue")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.brokerPublishes.WithLabelValues("task_exchange")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.brokerDeliveries.WithLabelValues("orchestrator_results_queue")))
}

func TestCollector_SetAgentsKnown(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetAgentsKnown(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.agentsKnown))

	collector.SetAgentsKnown(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.agentsKnown))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordTaskAssigned("review_code")
			collector.RecordVote("recorded")
			collector.RecordHTTPRequest("GET", "/healthz", 200, 10*time.Millisecond, 0, 0)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.tasksAssigned.WithLabelValues("review_code")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.votes.WithLabelValues("recorded")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(200))
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(100))
}
