package domain

import "strings"

// EventType names a class of change notification, e.g. "emote_set.update".
// Types ending in ".*" are wildcards covering every event of their category.
type EventType string

const (
	EventAnySystem          EventType = "system.*"
	EventSystemAnnouncement EventType = "system.announcement"

	EventAnyEmote    EventType = "emote.*"
	EventEmoteCreate EventType = "emote.create"
	EventEmoteUpdate EventType = "emote.update"
	EventEmoteDelete EventType = "emote.delete"

	EventAnyEmoteSet    EventType = "emote_set.*"
	EventEmoteSetCreate EventType = "emote_set.create"
	EventEmoteSetUpdate EventType = "emote_set.update"
	EventEmoteSetDelete EventType = "emote_set.delete"

	EventAnyUser              EventType = "user.*"
	EventUserCreate           EventType = "user.create"
	EventUserUpdate           EventType = "user.update"
	EventUserDelete           EventType = "user.delete"
	EventUserAddConnection    EventType = "user.add_connection"
	EventUserUpdateConnection EventType = "user.update_connection"
	EventUserDeleteConnection EventType = "user.delete_connection"

	EventAnyEntitlement    EventType = "entitlement.*"
	EventEntitlementCreate EventType = "entitlement.create"
	EventEntitlementUpdate EventType = "entitlement.update"
	EventEntitlementDelete EventType = "entitlement.delete"

	EventAnyCosmetic    EventType = "cosmetic.*"
	EventCosmeticCreate EventType = "cosmetic.create"
	EventCosmeticUpdate EventType = "cosmetic.update"
	EventCosmeticDelete EventType = "cosmetic.delete"

	EventWhisper EventType = "whisper.self"
)

var knownEventTypes = map[EventType]struct{}{
	EventAnySystem: {}, EventSystemAnnouncement: {},
	EventAnyEmote: {}, EventEmoteCreate: {}, EventEmoteUpdate: {}, EventEmoteDelete: {},
	EventAnyEmoteSet: {}, EventEmoteSetCreate: {}, EventEmoteSetUpdate: {}, EventEmoteSetDelete: {},
	EventAnyUser: {}, EventUserCreate: {}, EventUserUpdate: {}, EventUserDelete: {},
	EventUserAddConnection: {}, EventUserUpdateConnection: {}, EventUserDeleteConnection: {},
	EventAnyEntitlement: {}, EventEntitlementCreate: {}, EventEntitlementUpdate: {}, EventEntitlementDelete: {},
	EventAnyCosmetic: {}, EventCosmeticCreate: {}, EventCosmeticUpdate: {}, EventCosmeticDelete: {},
	EventWhisper: {},
}

// Valid reports whether t is part of the upstream event catalogue.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

func (t EventType) IsWildcard() bool {
	return strings.HasSuffix(string(t), ".*")
}

// Category returns the part before the first dot ("emote_set" for "emote_set.update").
func (t EventType) Category() string {
	category, _, _ := strings.Cut(string(t), ".")
	return category
}

// Wildcard returns the "<category>.*" type covering t.
func (t EventType) Wildcard() EventType {
	return EventType(t.Category() + ".*")
}

// Matches reports whether a subscription to t receives events of the given concrete type.
func (t EventType) Matches(concrete EventType) bool {
	if t == concrete {
		return true
	}
	return t.IsWildcard() && t.Category() == concrete.Category()
}
