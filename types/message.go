// Package types provides core types used across the swarmflow coordination layer.
// This package has ZERO dependencies on other swarmflow packages to avoid circular imports.
package types

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of envelope travelling between participants.
type MessageType string

const (
	MessageAgentReady  MessageType = "AGENT_READY"
	MessageTask        MessageType = "TASK"
	MessageResult      MessageType = "RESULT"
	MessageVote        MessageType = "VOTE"
	MessageVoteRequest MessageType = "VOTE_REQUEST"
)

// Valid reports whether t is one of the five known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageAgentReady, MessageTask, MessageResult, MessageVote, MessageVoteRequest:
		return true
	}
	return false
}

// AgentMessage is the wire envelope shared by the orchestrator and all agents.
// A nil ReceiverID means broadcast. TASK, RESULT and VOTE envelopes carry a
// non-nil TaskID equal to one previously generated by the orchestrator.
//
// The payload is kept as raw JSON so round-trips are lossless for every
// message type; use the typed payload structs with EncodePayload and
// DecodePayload at the edges.
type AgentMessage struct {
	SenderID   string          `json:"sender_id"`
	ReceiverID *string         `json:"receiver_id"`
	Type       MessageType     `json:"message_type"`
	Payload    json.RawMessage `json:"payload"`
	TaskID     *string         `json:"task_id"`
}

// Broadcast reports whether the message is addressed to everyone.
func (m *AgentMessage) Broadcast() bool {
	return m.ReceiverID == nil
}

// Receiver returns the receiver id, or "" for broadcasts.
func (m *AgentMessage) Receiver() string {
	if m.ReceiverID == nil {
		return ""
	}
	return *m.ReceiverID
}

// Task returns the correlated task id, or "" when absent.
func (m *AgentMessage) Task() string {
	if m.TaskID == nil {
		return ""
	}
	return *m.TaskID
}

// DecodePayload unmarshals the payload into v.
func (m *AgentMessage) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return NewError(ErrValidation, "message has no payload")
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return NewError(ErrValidation, "malformed payload").WithCause(err)
	}
	return nil
}

// Validate checks the structural invariants of the envelope: a known message
// type, a sender, and a task id on the task-bearing types.
func (m *AgentMessage) Validate() error {
	if !m.Type.Valid() {
		return NewError(ErrValidation, fmt.Sprintf("unknown message type %q", m.Type))
	}
	if m.SenderID == "" {
		return NewError(ErrValidation, "missing sender_id")
	}
	switch m.Type {
	case MessageTask, MessageResult, MessageVote:
		if m.Task() == "" {
			return NewError(ErrValidation, fmt.Sprintf("%s message requires a task_id", m.Type))
		}
	}
	return nil
}

// Marshal serializes the envelope for the wire.
func (m *AgentMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, NewError(ErrValidation, "marshal envelope").WithCause(err)
	}
	return data, nil
}

// ParseAgentMessage deserializes and validates a wire envelope.
func ParseAgentMessage(data []byte) (AgentMessage, error) {
	var m AgentMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return AgentMessage{}, NewError(ErrValidation, "malformed envelope").WithCause(err)
	}
	if err := m.Validate(); err != nil {
		return AgentMessage{}, err
	}
	return m, nil
}

// =============================================================================
// Payload shapes, one per message type
// =============================================================================

// AgentReadyPayload announces a newly started agent to its orchestrator.
type AgentReadyPayload struct {
	AgentType string `json:"agent_type"`
}

// TaskPayload carries one unit of work. The task id is duplicated from the
// envelope so a payload remains self-describing once detached from it.
type TaskPayload struct {
	TaskID  string         `json:"task_id"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details"`
}

// VotePayload is a single ballot on a topic.
type VotePayload struct {
	VoteTopic string `json:"vote_topic"`
	Vote      string `json:"vote"`
}

// VoteRequestPayload asks all agents to vote on a topic for a task,
// choosing among the declared options.
type VoteRequestPayload struct {
	TaskID  string   `json:"task_id"`
	Topic   string   `json:"topic"`
	Options []string `json:"options"`
}

// Result payload status values. RESULT payloads are open maps owned by the
// domain handlers; only the status and message keys are interpreted here.
const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"

	ResultKeyStatus  = "status"
	ResultKeyMessage = "message"
)

// ErrorResult builds the RESULT payload an agent reports when its handler
// fails: the failure is data, never a crashed consume loop.
func ErrorResult(message string) map[string]any {
	return map[string]any{
		ResultKeyStatus:  ResultStatusError,
		ResultKeyMessage: message,
	}
}

// =============================================================================
// Envelope constructors
// =============================================================================

// NewAgentMessage assembles an envelope with an arbitrary payload value.
// receiverID and taskID may be empty; empty receiver means broadcast.
func NewAgentMessage(sender, receiver string, t MessageType, payload any, taskID string) (AgentMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return AgentMessage{}, NewError(ErrValidation, "encode payload").WithCause(err)
	}
	m := AgentMessage{
		SenderID: sender,
		Type:     t,
		Payload:  raw,
	}
	if receiver != "" {
		m.ReceiverID = &receiver
	}
	if taskID != "" {
		m.TaskID = &taskID
	}
	return m, nil
}

// NewTaskMessage builds a TASK envelope addressed to one agent.
func NewTaskMessage(sender, agentID string, p TaskPayload) (AgentMessage, error) {
	return NewAgentMessage(sender, agentID, MessageTask, p, p.TaskID)
}

// NewResultMessage builds a RESULT envelope addressed to the orchestrator.
func NewResultMessage(sender, orchestratorID, taskID string, result map[string]any) (AgentMessage, error) {
	return NewAgentMessage(sender, orchestratorID, MessageResult, result, taskID)
}

// NewVoteMessage builds a VOTE envelope. Votes carry no receiver: routing
// happens via the vote exchange topic key.
func NewVoteMessage(sender, taskID string, p VotePayload) (AgentMessage, error) {
	return NewAgentMessage(sender, "", MessageVote, p, taskID)
}

// NewVoteRequestMessage builds a broadcast VOTE_REQUEST envelope. The task id
// lives in the payload, matching the original wire shape.
func NewVoteRequestMessage(sender string, p VoteRequestPayload) (AgentMessage, error) {
	return NewAgentMessage(sender, "", MessageVoteRequest, p, "")
}

// NewAgentReadyMessage builds the registration envelope an agent publishes
// on startup.
func NewAgentReadyMessage(sender, orchestratorID string, p AgentReadyPayload) (AgentMessage, error) {
	return NewAgentMessage(sender, orchestratorID, MessageAgentReady, p, "")
}
