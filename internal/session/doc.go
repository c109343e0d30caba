// Package session implements the worker's orchestrator: it turns foreground
// commands into backend requests and keeps the session state consistent while
// replies stream in.
//
// # Architecture Overview
//
// A single Core owns the session state through a state.Coordinator. Commands
// arrive through Dispatch, which never blocks on the backend:
//
//	core := session.New(session.Options{
//		Settings:  source,
//		Content:   provider,
//		Completer: stream.NewProcessor(transport),
//		Codec:     codec,
//		Bus:       bus,
//	})
//	if err := core.Start(ctx); err != nil {
//		return err
//	}
//	defer core.Shutdown(context.Background())
//
//	core.Dispatch(cmd)
//
// Start wires three pipelines off the coordinator:
//
//   - state: a throttled pipeline that publishes state notifications on the bus
//   - persist: a throttled pipeline that saves snapshots through the codec
//   - render: converts finished chat entries from markdown to HTML
//
// # Generations
//
// Every dispatched command starts a new generation. The request of the
// previous generation, if any, is cancelled and its chat entry is settled:
// the partial reply is kept as a finished entry. Stream readers only write
// state while their generation is current, so a cancelled stream can never
// overwrite the state a newer command produced.
//
// # Lifecycle
//
// A request moves the lifecycle Ready -> Requested -> Streaming -> Ready. A
// request that fails before streaming is rolled back: in-flight entries are
// dropped and an error notification carries a user-facing message.
package session
