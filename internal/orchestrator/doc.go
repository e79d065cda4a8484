// Package orchestrator runs missions: dependency graphs of subtasks
// delegated to isolated worker sessions.
//
// The package provides:
//   - Scheduling: launching ready subtasks through the admission gate in
//     descriptor order and pruning the subtree of any failed subtask
//   - Synthesis: folding every subtask's fate into one report per mission
//   - Reaping: discarding or retaining worker sessions after delivery
//
// An Orchestrator owns many concurrent missions. Each mission gets its own
// Scheduler; nothing is shared between missions except the admission gate.
//
// Example usage:
//
//	orch := orchestrator.New(orchestrator.RequiredConfig{
//		Resolver: delegation.NewStaticResolver("*"),
//		Runtime:  runtime,
//		Store:    session.NewMemoryStore(),
//	}, orchestrator.WithDeliverer(delivery.NewLogDeliverer(logger)))
//	accepted, err := orch.Submit(ctx, validate.Request{...})
//	report, err := orch.Wait(ctx, accepted.MissionID)
package orchestrator
