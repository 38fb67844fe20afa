// Package conductor coordinates the execution of declarative workflows.
//
// A workflow is a graph of tasks described in YAML (or built in Go with
// FlowBuilder). The conductor never runs actions itself: it tells a driver
// which tasks may run now, consumes the events the driver reports back and
// keeps the authoritative record of what happened.
//
// # Core Concepts
//
//  1. Workflow spec
//  2. Conductor
//  3. Driver
//  4. Snapshot
//
// # Conductor
//
// A Conductor owns one workflow execution. Its API is small:
//
//   - RequestWorkflowStatus starts, pauses, resumes or cancels the workflow.
//   - GetNextTasks returns the tasks that may run now, with rendered action
//     inputs. With-items tasks carry one action per item.
//   - UpdateTaskFlow applies an action event (running, succeeded, failed, ...)
//     to a task. Completions evaluate outbound transitions, publish variables
//     into a new context and stage the next tasks.
//
// The conductor is single-threaded and never blocks. Drivers serialize calls.
//
// # Driver
//
// LocalRunner is an in-process driver: it dispatches tasks into a queue,
// runs the registered actions on a pool of workers and reports their outcome
// until nothing is left to do.
//
//	runner := conductor.NewLocalRunner(conductor.RunnerConfig{Workers: 4})
//	runner.MustRegister("core.echo", echo)
//
//	wf, _ := conductor.Load("workflow.yaml")
//	c, _ := conductor.New(ctx, conductor.Config{Spec: wf, Input: input})
//	status, err := runner.Run(ctx, c)
//
// # Snapshot
//
// Serialize captures the whole conductor as plain data; FromSnapshot
// restores it. The persistence stores (memory, SQLite, Postgres, Redis and
// MongoDB) save snapshots together with a single-writer lease, so several
// driver processes can share one store.
package conductor
