// Package agent implements the execution loop that drives a model
// conversation to completion: request the model, append its reply,
// execute any tool calls, repeat until the model settles or a limit is
// hit.
//
// # Architecture
//
// The loop is deliberately thin. All mutable run state lives in
// ExecutionContext, which can be serialized between iterations and
// resumed later. Behavior variants are expressed as Flavor values, and
// cross-cutting extensions (memory, summarization, delegation) plug in
// as Hook values consulted at fixed points.
//
// # Usage
//
//	client, err := provider.New(ctx, "anthropic", "claude-sonnet-4")
//	if err != nil {
//	    // handle error
//	}
//
//	a := agent.New("helper", client,
//	    agent.WithSystemPrompt("You are a concise assistant."),
//	    agent.WithRegistry(registry),
//	    agent.WithMaxIterations(10),
//	)
//
//	result, err := a.Run(ctx, "Summarize the open incidents.")
//	if err != nil {
//	    // result.Context still holds the transcript
//	}
//	fmt.Println(result.Output)
//
// # Terminal states
//
// A run ends in exactly one of four ways: success (the model replied
// without tool calls), MaxIterationsError (the iteration limit was
// reached), ErrCancelled (the context or the run's cancel check fired),
// or ModelRequestError (an upstream call failed after any hook-granted
// retry). Tool failures are never terminal; the executor converts them
// into tool-role messages the model can react to.
package agent
