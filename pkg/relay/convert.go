package relay

import (
	"encoding/json"

	"github.com/ferrydock/ferry/pkg/relay/wire"
	"github.com/ferrydock/ferry/pkg/types"
)

// toServerMessage maps a queued message to its wire frame.
func toServerMessage(msg *types.QueueMessage) *wire.ServerMessage {
	switch msg.Kind {
	case types.MessageKindRegistration:
		r := msg.Registration
		var resources, retry json.RawMessage
		if r.Resources != nil {
			resources, _ = json.Marshal(r.Resources)
		}
		if r.RetryPolicy != nil {
			retry, _ = json.Marshal(r.RetryPolicy)
		}
		return &wire.ServerMessage{
			Kind: wire.KindAgentRegistration,
			AgentRegistration: &wire.AgentRegistration{
				AgentID:       r.AgentID,
				AgentName:     r.AgentName,
				Image:         r.Image,
				ResourcesJSON: resources,
				RetryJSON:     retry,
				ConfigHash:    r.ConfigHash,
				UseSandbox:    r.UseSandbox,
				WarmPoolSize:  r.WarmPoolSize,
				NetworkPolicy: r.NetworkPolicy,
				Env:           r.Env,
			},
		}
	default:
		w := msg.Work
		return &wire.ServerMessage{
			Kind: wire.KindWorkItem,
			WorkItem: &wire.WorkItem{
				ExecutionID: w.ExecutionID,
				AgentName:   w.AgentName,
				Input:       w.Input,
				Priority:    msg.Priority.WireCode(),
			},
		}
	}
}
