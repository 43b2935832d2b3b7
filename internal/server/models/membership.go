package models

import "time"

// GroupMember is a (group, user) access edge.
type GroupMember struct {
	GroupID string
	Npub    string
	AddedAt time.Time
}

// ChannelGroup attaches a group to a channel; members of the group can reach
// the channel.
type ChannelGroup struct {
	ChannelID string
	GroupID   string
}
