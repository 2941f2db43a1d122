// Package store serializes state changes through a reducer.
//
// A Store owns one state value. Actions sent to it are applied one at a time
// on the store's loop goroutine, whatever goroutine they come from. A reducer
// answers each action with an Effect: nothing, another action applied in the
// same drain, or a task that runs concurrently and emits further actions.
//
//	s := store.New(ctx, State{}, reduce, env)
//	defer s.Close()
//	task := s.Send(Refresh{})
//	defer task.Cancel()
//
// Cancelling a Task cancels the tasks its actions spawned in turn, and any
// action a cancelled task emits afterwards is dropped.
package store
