// Package agent drives a thread through the model/tool loop.
//
// A Loop repeatedly projects the thread to a prompt, asks the model for a
// decision under the retry and fallback policy, appends the resulting events
// and persists the thread after every transition that produced events. Tool
// failures become tool_result events the model sees on the next turn. Model
// failures escalate only after the policy is exhausted; persistence failures
// escalate at once. The loop keeps no global state: model, registry, store
// and policy are all passed to NewLoop.
//
// States:
//
//	AWAITING_MODEL -> MODEL_RESPONDED -> DONE
//	                                  -> EXECUTING_TOOLS -> AWAITING_MODEL
//	any -> FAILED
package agent
