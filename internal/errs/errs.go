// Package errs defines the stable error vocabulary surfaced to clients.
// Every service failure carries exactly one Kind; handlers serialize it as
// {"error": "<kind>"} and logs reference the same tag.
package errs

import "errors"

// Kind is a stable string tag. Tags are part of the wire contract and must
// never be renamed.
type Kind string

// Validation.
const (
	InvalidRequest     Kind = "invalid_request"
	InvalidSignature   Kind = "invalid_signature"
	PriceOutOfRange    Kind = "price_out_of_range"
	InvalidStack       Kind = "invalid_stack"
	PositionOutOfBound Kind = "position_out_of_bounds"
	PositionBlocked    Kind = "position_blocked"
)

// Authorization.
const (
	NotLeader           Kind = "not_leader"
	NotYourRaid         Kind = "not_your_raid"
	NotYourListing      Kind = "not_your_listing"
	InvalidServerSecret Kind = "invalid_server_secret"
)

// Resource.
const (
	CharacterNotFound Kind = "character_not_found"
	ItemNotFound      Kind = "item_not_found"
	ListingNotFound   Kind = "listing_not_found"
	MatchNotFound     Kind = "match_not_found"
	ServerNotFound    Kind = "server_not_found"
	LobbyNotFound     Kind = "lobby_not_found"
	TraderNotFound    Kind = "trader_not_found"
)

// State.
const (
	AlreadyInRaid      Kind = "already_in_raid"
	RaidNotPreparing   Kind = "raid_not_preparing"
	RaidNotFound       Kind = "raid_not_found"
	AlreadyCommitted   Kind = "already_committed"
	ItemsAlreadyLocked Kind = "items_already_locked"
	LobbyNotWaiting    Kind = "lobby_not_waiting"
	LobbyFull          Kind = "lobby_full"
	ItemLockedRaid     Kind = "item_locked_raid"
	ItemLockedEscrow   Kind = "item_locked_escrow"
	ListingNotActive   Kind = "listing_not_active"
	ListingExpired     Kind = "listing_expired"
	ItemNonTradeable   Kind = "item_non_tradeable"
	ItemQuestBound     Kind = "item_quest_bound"
)

// Capacity.
const (
	NoServersAvailable  Kind = "no_servers_available"
	ServerFailedToStart Kind = "server_failed_to_start"
	OutOfStock          Kind = "out_of_stock"
	InsufficientFunds   Kind = "insufficient_funds"
	LevelTooLow         Kind = "level_too_low"
	ReputationTooLow    Kind = "reputation_too_low"
)

// Error carries a Kind through the usual error plumbing.
type Error struct {
	Kind Kind
}

func (e *Error) Error() string { return string(e.Kind) }

// New returns an error with the given kind.
func New(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is lets errors.Is(err, errs.New(kind)) match on the kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}
