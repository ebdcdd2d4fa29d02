// ABOUTME: Shared vocabulary for proposed outbound actions: channels, types and lifecycle status
// ABOUTME: Used by the store, the gate, the dispatchers and the orchestrator

package action

import "fmt"

// Channel is the external channel family an action targets.
type Channel string

const (
	ChannelSocialDM Channel = "social_dm"
	ChannelEmail    Channel = "email"
	ChannelWebsite  Channel = "website"
	ChannelContent  Channel = "content"
)

// Type is the discriminator for an action payload.
type Type string

const (
	TypeDMSend        Type = "dm_send"
	TypeEmailSend     Type = "email_send"
	TypeWebsiteReply  Type = "website_reply"
	TypeContentRender Type = "content_render"
)

// Status is the lifecycle status of an Action Record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// Claimable reports whether a record in this status may be moved into executing.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusExecuting, StatusSent, StatusFailed:
		return true
	}
	return false
}

// channelByType maps every action type to the only channel that may carry it.
var channelByType = map[Type]Channel{
	TypeDMSend:        ChannelSocialDM,
	TypeEmailSend:     ChannelEmail,
	TypeWebsiteReply:  ChannelWebsite,
	TypeContentRender: ChannelContent,
}

// ChannelFor returns the channel an action type belongs to.
func ChannelFor(t Type) (Channel, error) {
	ch, ok := channelByType[t]
	if !ok {
		return "", fmt.Errorf("unknown action_type %q", t)
	}
	return ch, nil
}

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	_, ok := channelByType[t]
	return ok
}

// HasOutboundMessage reports whether dispatching this type produces a
// channel-facing outbound message.
func (t Type) HasOutboundMessage() bool {
	return t == TypeDMSend || t == TypeEmailSend || t == TypeWebsiteReply
}
