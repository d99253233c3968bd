package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMessageTypeValid(t *testing.T) {
	for _, mt := range []MessageType{MessageAgentReady, MessageTask, MessageResult, MessageVote, MessageVoteRequest} {
		if !mt.Valid() {
			t.Errorf("expected %q to be valid", mt)
		}
	}
	for _, mt := range []MessageType{"", "TASK_RESULT", "task", "PING"} {
		if mt.Valid() {
			t.Errorf("expected %q to be invalid", mt)
		}
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	t.Run("broadcast emits null receiver and null task id", func(t *testing.T) {
		msg, err := NewVoteRequestMessage("orchestrator_1", VoteRequestPayload{
			TaskID:  "t1",
			Topic:   "approve_code_fix",
			Options: []string{"Approve", "Reject"},
		})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		data, err := msg.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		s := string(data)
		if !strings.Contains(s, `"receiver_id":null`) {
			t.Errorf("expected null receiver_id, got %s", s)
		}
		if !strings.Contains(s, `"task_id":null`) {
			t.Errorf("expected null task_id on envelope, got %s", s)
		}
		if !strings.Contains(s, `"message_type":"VOTE_REQUEST"`) {
			t.Errorf("expected VOTE_REQUEST type, got %s", s)
		}
	})

	t.Run("addressed task carries receiver and task id", func(t *testing.T) {
		msg, err := NewTaskMessage("orchestrator_1", "agent_a", TaskPayload{
			TaskID:  "d1",
			Type:    "review_code",
			Details: map[string]any{"code_diff": "--- a\n+++ b"},
		})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if msg.Broadcast() {
			t.Error("task message must not be a broadcast")
		}
		if msg.Receiver() != "agent_a" {
			t.Errorf("receiver = %q, want agent_a", msg.Receiver())
		}
		if msg.Task() != "d1" {
			t.Errorf("task = %q, want d1", msg.Task())
		}
	})
}

func TestParseAgentMessageValidation(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"garbage", `{not json`},
		{"unknown type", `{"sender_id":"a","receiver_id":null,"message_type":"PING","payload":{},"task_id":null}`},
		{"missing sender", `{"sender_id":"","receiver_id":null,"message_type":"VOTE_REQUEST","payload":{},"task_id":null}`},
		{"task without task id", `{"sender_id":"o","receiver_id":"a","message_type":"TASK","payload":{},"task_id":null}`},
		{"vote without task id", `{"sender_id":"a","receiver_id":null,"message_type":"VOTE","payload":{},"task_id":null}`},
		{"result without task id", `{"sender_id":"a","receiver_id":"o","message_type":"RESULT","payload":{},"task_id":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAgentMessage([]byte(tc.json))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsErrorCode(err, ErrValidation) {
				t.Errorf("expected VALIDATION code, got %v", err)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	msg, err := NewVoteMessage("sec1", "t1", VotePayload{VoteTopic: "approve_code_fix", Vote: "Approve"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var p VotePayload
	if err := msg.DecodePayload(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.VoteTopic != "approve_code_fix" || p.Vote != "Approve" {
		t.Errorf("unexpected payload %+v", p)
	}

	empty := AgentMessage{SenderID: "x", Type: MessageVote}
	if err := empty.DecodePayload(&p); !IsErrorCode(err, ErrValidation) {
		t.Errorf("expected VALIDATION on empty payload, got %v", err)
	}
}

func TestErrorResultShape(t *testing.T) {
	r := ErrorResult("No code diff provided for security review.")
	if r[ResultKeyStatus] != ResultStatusError {
		t.Errorf("status = %v, want error", r[ResultKeyStatus])
	}
	if r[ResultKeyMessage] == "" {
		t.Error("expected a message")
	}
}

// Round-trip consistency: serializing then deserializing an envelope yields a
// value equal in all fields to the original, for every message type.
func TestProperty_EnvelopeRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("agent ready round-trips", prop.ForAll(
		func(sender, orch, agentType string) bool {
			original, err := NewAgentReadyMessage(sender, orch, AgentReadyPayload{AgentType: agentType})
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}
			decoded, ok := roundTrip(t, original)
			if !ok {
				return false
			}
			var p AgentReadyPayload
			if err := decoded.DecodePayload(&p); err != nil {
				t.Logf("decode payload: %v", err)
				return false
			}
			return p.AgentType == agentType
		},
		gen.Identifier(), // sender
		gen.Identifier(), // orch
		gen.Identifier(), // agentType
	))

	properties.Property("task round-trips", prop.ForAll(
		func(sender, agentID, taskID, taskType, diff string) bool {
			original, err := NewTaskMessage(sender, agentID, TaskPayload{
				TaskID:  taskID,
				Type:    taskType,
				Details: map[string]any{"code_diff": diff},
			})
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}
			decoded, ok := roundTrip(t, original)
			if !ok {
				return false
			}
			var p TaskPayload
			if err := decoded.DecodePayload(&p); err != nil {
				t.Logf("decode payload: %v", err)
				return false
			}
			return decoded.Task() == taskID && p.TaskID == taskID &&
				p.Type == taskType && p.Details["code_diff"] == diff
		},
		gen.Identifier(), // sender
		gen.Identifier(), // agentID
		gen.Identifier(), // taskID
		gen.Identifier(), // taskType
		gen.AlphaString(),
	))

	properties.Property("vote round-trips", prop.ForAll(
		func(sender, taskID, topic, ballot string) bool {
			original, err := NewVoteMessage(sender, taskID, VotePayload{VoteTopic: topic, Vote: ballot})
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}
			decoded, ok := roundTrip(t, original)
			if !ok {
				return false
			}
			var p VotePayload
			if err := decoded.DecodePayload(&p); err != nil {
				t.Logf("decode payload: %v", err)
				return false
			}
			return decoded.Broadcast() && decoded.Task() == taskID &&
				p.VoteTopic == topic && p.Vote == ballot
		},
		gen.Identifier(), // sender
		gen.Identifier(), // taskID
		gen.Identifier(), // topic
		gen.Identifier(), // ballot
	))

	properties.Property("vote request round-trips with options intact", prop.ForAll(
		func(sender, taskID, topic string, optionCount int) bool {
			options := make([]string, optionCount)
			for i := range options {
				options[i] = string(rune('A' + i))
			}
			original, err := NewVoteRequestMessage(sender, VoteRequestPayload{
				TaskID: taskID, Topic: topic, Options: options,
			})
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}
			decoded, ok := roundTrip(t, original)
			if !ok {
				return false
			}
			var p VoteRequestPayload
			if err := decoded.DecodePayload(&p); err != nil {
				t.Logf("decode payload: %v", err)
				return false
			}
			if len(p.Options) != optionCount {
				t.Logf("options count mismatch: %d != %d", len(p.Options), optionCount)
				return false
			}
			for i := range options {
				if p.Options[i] != options[i] {
					return false
				}
			}
			return p.TaskID == taskID && p.Topic == topic
		},
		gen.Identifier(),   // sender
		gen.Identifier(),   // taskID
		gen.Identifier(),   // topic
		gen.IntRange(1, 8), // optionCount
	))

	properties.Property("result round-trips with payload intact", prop.ForAll(
		func(sender, orch, taskID, review string) bool {
			original, err := NewResultMessage(sender, orch, taskID, map[string]any{
				"status": ResultStatusSuccess,
				"review": review,
			})
			if err != nil {
				t.Logf("build failed: %v", err)
				return false
			}
			decoded, ok := roundTrip(t, original)
			if !ok {
				return false
			}
			var p map[string]any
			if err := decoded.DecodePayload(&p); err != nil {
				t.Logf("decode payload: %v", err)
				return false
			}
			return p["status"] == ResultStatusSuccess && p["review"] == review
		},
		gen.Identifier(), // sender
		gen.Identifier(), // orch
		gen.Identifier(), // taskID
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// roundTrip marshals, parses back, and compares the header fields.
func roundTrip(t *testing.T, original AgentMessage) (AgentMessage, bool) {
	t.Helper()
	data, err := original.Marshal()
	if err != nil {
		t.Logf("marshal: %v", err)
		return AgentMessage{}, false
	}
	decoded, err := ParseAgentMessage(data)
	if err != nil {
		t.Logf("parse: %v", err)
		return AgentMessage{}, false
	}
	if decoded.SenderID != original.SenderID {
		t.Logf("sender mismatch: %q != %q", decoded.SenderID, original.SenderID)
		return AgentMessage{}, false
	}
	if decoded.Type != original.Type {
		t.Logf("type mismatch: %q != %q", decoded.Type, original.Type)
		return AgentMessage{}, false
	}
	if decoded.Receiver() != original.Receiver() || decoded.Broadcast() != original.Broadcast() {
		t.Logf("receiver mismatch")
		return AgentMessage{}, false
	}
	if decoded.Task() != original.Task() {
		t.Logf("task id mismatch: %q != %q", decoded.Task(), original.Task())
		return AgentMessage{}, false
	}
	if !json.Valid(decoded.Payload) {
		t.Logf("payload not valid JSON after round trip")
		return AgentMessage{}, false
	}
	return decoded, true
}
