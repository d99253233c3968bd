package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/llm"
	"github.com/BaSui01/swarmflow/orchestrator"
	"github.com/BaSui01/swarmflow/registry"
	"github.com/BaSui01/swarmflow/transport"
	"github.com/BaSui01/swarmflow/types"
)

// =============================================================================
// demo command
// =============================================================================

// demoTimeout bounds the whole walkthrough; on a healthy machine it finishes
// in well under a second.
const demoTimeout = 30 * time.Second

// demoDiff is the code change the specialists review.
const demoDiff = `--- a/store/user.go
+++ b/store/user.go
@@ -12,9 +12,9 @@ func (s *Store) UserByName(ctx context.Context, name string) (*User, error) {
-	query := "SELECT id, name, email FROM users WHERE name = '" + name + "'"
-	row := s.db.QueryRowContext(ctx, query)
+	const query = "SELECT id, name, email FROM users WHERE name = $1"
+	row := s.db.QueryRowContext(ctx, query, name)
 	var u User
-	if err := row.Scan(&u.ID, &u.Name, &u.Email); err != nil {
+	if err := row.Scan(&u.ID, &u.Name, &u.Email); err != nil {
 		return nil, fmt.Errorf("scan user: %w", err)
 	}`

// demoSnippet is the snippet handed to the refactor specialist.
const demoSnippet = `for i := 0; i < 3; i++ {
	resp, err = client.Do(req)
	if err == nil {
		break
	}
	time.Sleep(time.Second)
}`

// demoSpecialist describes one worker in the walkthrough: its scripted
// review output and the ballot it casts when the approval vote opens.
type demoSpecialist struct {
	capability agent.Capability
	response   string
	ballot     string
}

var demoSpecialists = []demoSpecialist{
	{
		capability: agent.CapabilitySecurity,
		response:   "The parameterized query closes the injection hole; no further risks found.",
		ballot:     "Approve",
	},
	{
		capability: agent.CapabilityPerformance,
		response:   "No regressions expected. The driver caches the prepared statement across calls.",
		ballot:     "Approve",
	},
	{
		capability: agent.CapabilityQuality,
		response:   "Consistent with the package style. A table test for the scan error path would help.",
		ballot:     "Needs More Info",
	},
	{
		capability: agent.CapabilityTesting,
		response:   "Covered by the existing lookup tests; add a case for an empty name input.",
		ballot:     "Approve",
	},
	{
		capability: agent.CapabilityRefactor,
		response:   "Extract the retry loop into a helper taking the attempt count and backoff, so the policy is testable in isolation.",
		ballot:     "Approve",
	},
}

// runDemo runs the end-to-end walkthrough on the in-memory broker: five
// specialists register, review one code change, and vote on approving it.
// Everything is offline and deterministic.
func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Show coordination logs")
	fs.Parse(args)

	logger := zap.NewNop()
	if *verbose {
		logger = initLogger(config.LogConfig{
			Level:       "debug",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		})
	}
	defer logger.Sync()

	if err := demo(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Demo failed: %v\n", err)
		os.Exit(1)
	}
}

func demo(logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), demoTimeout)
	defer cancel()

	broker := transport.NewMemoryBroker(transport.DefaultConfig(), logger)
	defer broker.Close()

	store := registry.NewMemoryStore(registry.Config{})
	defer store.Close()

	orchCfg := orchestrator.DefaultConfig()
	orch, err := orchestrator.New(orchCfg, broker, store, logger)
	if err != nil {
		return err
	}

	// The group below starts the orchestrator and the specialists together;
	// pre-binding keeps the earliest AGENT_READY from reaching the result
	// exchange before any queue is bound to it.
	if err := transport.DeclareTopology(ctx, broker); err != nil {
		return err
	}
	if err := transport.DeclareOrchestratorQueues(ctx, broker, orchCfg.ID); err != nil {
		return err
	}

	// Build the five specialists before starting anything so their vote
	// functions are installed ahead of the broadcast.
	workers := make([]*agent.Agent, 0, len(demoSpecialists))
	for _, spec := range demoSpecialists {
		worker, err := agent.New(agent.Config{
			ID:         string(spec.capability) + "_agent",
			Capability: spec.capability,
		}, broker, llm.NewScriptedGenerator(spec.response), logger)
		if err != nil {
			return err
		}
		ballot := spec.ballot
		worker.OnVoteRequest(func(req types.VoteRequestPayload) (string, bool) {
			return ballot, true
		})
		workers = append(workers, worker)
	}

	runCtx, stop := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return orch.Run(runCtx) })
	for _, worker := range workers {
		g.Go(func() error { return worker.Run(runCtx) })
	}

	fmt.Println("SwarmFlow demo: five specialists review one code change")
	fmt.Println()

	if err := awaitDemoAgents(ctx, orch, len(workers)); err != nil {
		stop()
		return fmt.Errorf("waiting for agent registration: %w", err)
	}

	fmt.Println("Registered agents:")
	agents := orch.Agents()
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	for _, info := range agents {
		fmt.Printf("  - %s (%s)\n", info.AgentID, info.AgentType)
	}
	fmt.Println()

	// One task per specialist: the reviewers get the diff, the refactor
	// specialist gets the snippet.
	taskIDs := make([]string, 0, len(demoSpecialists))
	var refactorTaskID string
	for _, spec := range demoSpecialists {
		agentID := string(spec.capability) + "_agent"
		taskType := agent.TaskReviewCode
		details := map[string]any{agent.DetailCodeDiff: demoDiff}
		if spec.capability == agent.CapabilityRefactor {
			taskType = agent.TaskRefactorCode
			details = map[string]any{agent.DetailCodeSnippet: demoSnippet}
		}

		taskID, err := orch.AssignTask(ctx, agentID, taskType, details)
		if err != nil {
			stop()
			return fmt.Errorf("assign %s to %s: %w", taskType, agentID, err)
		}
		taskIDs = append(taskIDs, taskID)
		if spec.capability == agent.CapabilityRefactor {
			refactorTaskID = taskID
		}
	}

	fmt.Println("Review results:")
	for _, taskID := range taskIDs {
		task, err := awaitDemoTask(ctx, orch, taskID)
		if err != nil {
			stop()
			return fmt.Errorf("waiting for task %s: %w", taskID, err)
		}
		fmt.Printf("  [%s] %s: %s\n", task.AgentID, task.Type, task.Status)
		fmt.Printf("      %s\n", demoResultText(task.Results))
	}
	fmt.Println()

	// The approval vote rides on the refactor task.
	topic := "approve_code_fix"
	options := []string{"Approve", "Reject", "Needs More Info"}
	if err := orch.InitiateVote(ctx, refactorTaskID, topic, options); err != nil {
		stop()
		return fmt.Errorf("initiate vote: %w", err)
	}
	fmt.Printf("Vote opened: %s %v\n", topic, options)

	result, err := awaitDemoVotes(ctx, orch, topic, refactorTaskID, len(workers))
	if err != nil {
		stop()
		return fmt.Errorf("waiting for ballots: %w", err)
	}

	fmt.Printf("Ballots collected: %d\n", result.TotalVotes)
	choices := make([]string, 0, len(result.VoteCounts))
	for choice := range result.VoteCounts {
		choices = append(choices, choice)
	}
	sort.Strings(choices)
	for _, choice := range choices {
		fmt.Printf("  %-16s %d\n", choice, result.VoteCounts[choice])
	}
	fmt.Println()
	fmt.Printf("Consensus: %s\n", result.Message)

	stop()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// =============================================================================
// Demo polling helpers
// =============================================================================

func awaitDemoAgents(ctx context.Context, orch *orchestrator.Orchestrator, want int) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(orch.Agents()) >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func awaitDemoTask(ctx context.Context, orch *orchestrator.Orchestrator, taskID string) (*registry.Task, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := orch.Task(ctx, taskID)
		if err == nil && task.Status != registry.StatusAssigned {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func awaitDemoVotes(ctx context.Context, orch *orchestrator.Orchestrator, topic, taskID string, want int) (orchestrator.ConsensusResult, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		result := orch.CoordinateConsensus(topic, taskID)
		if result.TotalVotes >= want {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

// demoResultText extracts the human-readable part of a result payload.
func demoResultText(results map[string]any) string {
	for _, key := range []string{
		agent.ResultKeyReview,
		agent.ResultKeyRecommendation,
		agent.ResultKeyAgentResponse,
		types.ResultKeyMessage,
	} {
		if text, ok := results[key].(string); ok && text != "" {
			return text
		}
	}
	return "(no output)"
}
