package types

import (
	"time"

	"github.com/google/uuid"
)

// CampaignID identifies a top-level campaign grouping of entities.
// String alias enables type safety while maintaining JSON string
// serialization. UUIDv7 time-ordering clusters sequential inserts in
// B-tree indexes.
type CampaignID string

// BranchID names a timeline fork within a campaign.
type BranchID string

// DefaultBranch is the branch every campaign starts with.
const DefaultBranch BranchID = "main"

// EntityID identifies a kingdom, settlement, structure, party or character.
type EntityID string

// ConditionID identifies a computed-field condition.
type ConditionID string

// VariableID identifies a stored or derived variable.
type VariableID string

// NewEntityID generates a UUIDv7 entity identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEntityID() EntityID {
	return EntityID(uuid.Must(uuid.NewV7()).String())
}

// NewCampaignID generates a UUIDv7 campaign identifier.
func NewCampaignID() CampaignID {
	return CampaignID(uuid.Must(uuid.NewV7()).String())
}

// NewConditionID generates a UUIDv7 condition identifier.
func NewConditionID() ConditionID {
	return ConditionID(uuid.Must(uuid.NewV7()).String())
}

// NewVariableID generates a UUIDv7 variable identifier.
func NewVariableID() VariableID {
	return VariableID(uuid.Must(uuid.NewV7()).String())
}

// ParseEntityID validates and converts a string to EntityID.
// Rejects malformed UUIDs so invalid ids never enter the system.
func ParseEntityID(s string) (EntityID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return EntityID(s), nil
}

// ParseConditionID validates and converts a string to ConditionID.
func ParseConditionID(s string) (ConditionID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return ConditionID(s), nil
}

// IDTime extracts the timestamp embedded in a UUIDv7 identifier.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func IDTime(id string) time.Time {
	u, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
