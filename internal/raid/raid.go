// Package raid drives the prepare/start/commit lifecycle that keeps items
// from duplicating across a play session. Loadout items are locked at
// prepare, the match server reports the outcome under a shared-secret
// signature, and commit applies the outcome at most once.
package raid

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
	"github.com/deadhold/backend/internal/inventory"
	"github.com/deadhold/backend/internal/metrics"
)

const (
	prepareTimeout = 10 * time.Minute
	raidTimeout    = 2 * time.Hour
)

type Status string

const (
	StatusPreparing Status = "preparing"
	StatusActive    Status = "active"
	StatusCommitted Status = "committed"
	StatusAbandoned Status = "abandoned"
)

// Loadout names the item instances a character takes into a raid.
type Loadout struct {
	Primary   string   `json:"primary,omitempty"`
	Secondary string   `json:"secondary,omitempty"`
	Melee     string   `json:"melee,omitempty"`
	Armor     string   `json:"armor,omitempty"`
	Rig       string   `json:"rig,omitempty"`
	Bag       string   `json:"bag,omitempty"`
	Pockets   []string `json:"pockets,omitempty"`
}

// iids returns the deduplicated non-blank instance ids of the loadout.
func (l *Loadout) iids() []string {
	seen := make(map[string]bool)
	var out []string
	for _, iid := range append([]string{l.Primary, l.Secondary, l.Melee, l.Armor, l.Rig, l.Bag}, l.Pockets...) {
		if iid == "" || seen[iid] {
			continue
		}
		seen[iid] = true
		out = append(out, iid)
	}
	return out
}

// Session is one raid from prepare to commit.
type Session struct {
	ID          string     `json:"raidId"`
	CharacterID string     `json:"characterId"`
	LobbyID     string     `json:"lobbyId,omitempty"`
	Loadout     Loadout    `json:"loadout"`
	LockedIIDs  []string   `json:"lockedIids"`
	MatchID     string     `json:"matchId,omitempty"`
	PlayerIDs   []string   `json:"playerIds,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
}

// Outcome is one character's reported raid result.
type Outcome struct {
	CharacterID       string                       `json:"characterId"`
	Status            string                       `json:"status"` // extracted | died
	ProvisionalLoot   []inventory.LootStack        `json:"provisionalLoot,omitempty"`
	LostIIDs          []string                     `json:"lostIids,omitempty"`
	DurabilityUpdates []inventory.DurabilityUpdate `json:"durabilityUpdates,omitempty"`
	GoldGained        int                          `json:"goldGained,omitempty"`
	XPGained          int                          `json:"xpGained,omitempty"`
}

// LoadoutView materializes a loadout for the match server to hydrate a
// player with. Read-only.
type LoadoutView struct {
	CharacterID string                    `json:"characterId"`
	Loadout     Loadout                   `json:"loadout"`
	Items       []*inventory.ItemInstance `json:"items"`
}

// signedPayload is the canonical commit envelope. Field declaration order is
// the canonical key order; changing it breaks every deployed signer.
type signedPayload struct {
	RaidID   string          `json:"raidId"`
	MatchID  string          `json:"matchId"`
	Outcomes []signedOutcome `json:"outcomes"`
}

type signedOutcome struct {
	CharacterID string `json:"characterId"`
	Status      string `json:"status"`
	LootCount   int    `json:"lootCount"`
	LostCount   int    `json:"lostCount"`
}

// Sign computes the commit signature: lowercase hex SHA-256 of the canonical
// JSON envelope concatenated with the shared secret. Deterministic.
func Sign(raidID, matchID string, outcomes []Outcome, secret string) string {
	p := signedPayload{RaidID: raidID, MatchID: matchID, Outcomes: make([]signedOutcome, 0, len(outcomes))}
	for _, o := range outcomes {
		p.Outcomes = append(p.Outcomes, signedOutcome{
			CharacterID: o.CharacterID,
			Status:      o.Status,
			LootCount:   len(o.ProvisionalLoot),
			LostCount:   len(o.LostIIDs),
		})
	}
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(append(raw, secret...))
	return hex.EncodeToString(sum[:])
}

type Service struct {
	mu     sync.Mutex
	secret string
	inv    *inventory.Service
	met    *metrics.Set
	log    *zap.Logger

	raids  map[string]*Session
	byChar map[string]string // character id → non-terminal raid id
}

func NewService(secret string, inv *inventory.Service, met *metrics.Set, log *zap.Logger) *Service {
	return &Service{
		secret: secret,
		inv:    inv,
		met:    met,
		log:    log.Named("raid"),
		raids:  make(map[string]*Session),
		byChar: make(map[string]string),
	}
}

// Prepare locks the loadout and opens a Preparing session. A character may
// hold one non-terminal raid; an expired one is cleaned up first.
func (s *Service) Prepare(characterID, lobbyID string, lo Loadout) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prevID, in := s.byChar[characterID]; in {
		prev := s.raids[prevID]
		if prev != nil && time.Now().After(prev.ExpiresAt) {
			s.abandonLocked(prev, "expired")
		} else {
			return nil, errs.New(errs.AlreadyInRaid)
		}
	}
	iids := lo.iids()
	raidID := uuid.NewString()
	if err := s.inv.LockForRaid(characterID, iids, raidID); err != nil {
		return nil, err
	}
	now := time.Now()
	r := &Session{
		ID:          raidID,
		CharacterID: characterID,
		LobbyID:     lobbyID,
		Loadout:     lo,
		LockedIIDs:  iids,
		Status:      StatusPreparing,
		CreatedAt:   now,
		ExpiresAt:   now.Add(prepareTimeout),
	}
	s.raids[raidID] = r
	s.byChar[characterID] = raidID
	s.log.Info("raid prepared",
		zap.String("raid", raidID),
		zap.String("character", characterID),
		zap.Int("locked", len(iids)),
	)
	return r.clone(), nil
}

// Start transitions a Preparing raid to Active, stamps the match id, and
// extends the expiry to the in-raid timeout. Match servers only.
func (s *Service) Start(secret, raidID, matchID string, playerIDs []string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.secretOK(secret) {
		return nil, errs.New(errs.InvalidServerSecret)
	}
	r, ok := s.raids[raidID]
	if !ok {
		return nil, errs.New(errs.RaidNotFound)
	}
	if r.Status != StatusPreparing {
		return nil, errs.New(errs.RaidNotPreparing)
	}
	r.Status = StatusActive
	r.MatchID = matchID
	r.PlayerIDs = append([]string(nil), playerIDs...)
	r.ExpiresAt = time.Now().Add(raidTimeout)
	return r.clone(), nil
}

// GetLoadout returns the loadout with materialized instances. Match servers
// only; read-only.
func (s *Service) GetLoadout(secret, raidID, characterID string) (*LoadoutView, error) {
	s.mu.Lock()
	if !s.secretOK(secret) {
		s.mu.Unlock()
		return nil, errs.New(errs.InvalidServerSecret)
	}
	r, ok := s.raids[raidID]
	if !ok {
		s.mu.Unlock()
		return nil, errs.New(errs.RaidNotFound)
	}
	if r.CharacterID != characterID {
		s.mu.Unlock()
		return nil, errs.New(errs.NotYourRaid)
	}
	lo := r.Loadout
	iids := append([]string(nil), r.LockedIIDs...)
	s.mu.Unlock()

	items, err := s.inv.Instances(characterID, iids)
	if err != nil {
		return nil, err
	}
	return &LoadoutView{CharacterID: characterID, Loadout: lo, Items: items}, nil
}

// Commit applies a signed raid outcome at most once. Checks run in a fixed
// order and nothing touches the inventory until every check passes, so a
// failed commit leaves no trace.
func (s *Service) Commit(secret, raidID, matchID string, outcomes []Outcome, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.secretOK(secret) {
		return errs.New(errs.InvalidServerSecret)
	}
	r, ok := s.raids[raidID]
	if !ok {
		return errs.New(errs.RaidNotFound)
	}
	if r.Status == StatusCommitted {
		s.commitMetric("already_committed")
		return errs.New(errs.AlreadyCommitted)
	}
	if r.Status == StatusAbandoned {
		return errs.New(errs.RaidNotFound)
	}
	if matchID != r.MatchID {
		return errs.New(errs.InvalidRequest)
	}
	want := Sign(raidID, matchID, outcomes, s.secret)
	if subtle.ConstantTimeCompare([]byte(want), []byte(signature)) != 1 {
		s.commitMetric("invalid_signature")
		s.log.Warn("raid commit signature mismatch",
			zap.String("raid", raidID),
			zap.String("match", matchID),
		)
		return errs.New(errs.InvalidSignature)
	}

	for _, o := range outcomes {
		if o.CharacterID != r.CharacterID {
			continue
		}
		apply := inventory.RaidOutcomeApply{RaidID: raidID}
		switch o.Status {
		case "extracted":
			apply.Loot = o.ProvisionalLoot
			apply.LostIIDs = o.LostIIDs
			apply.Durability = o.DurabilityUpdates
			apply.Gold = o.GoldGained
			apply.XP = o.XPGained
		case "died":
			// Insured items survive the death and stay in the stash.
			apply.LoseUninsured = true
		default:
			continue
		}
		// One critical section on the inventory side: a concurrent Snapshot
		// sees the stash either before or after the outcome, never between.
		if _, err := s.inv.ApplyRaidOutcome(r.CharacterID, apply); err != nil {
			return err
		}
	}
	s.inv.UnlockRaidItems(r.CharacterID, raidID)

	now := time.Now()
	r.Status = StatusCommitted
	r.CommittedAt = &now
	delete(s.byChar, r.CharacterID)
	s.commitMetric("committed")
	s.log.Info("raid committed", zap.String("raid", raidID), zap.String("match", matchID))
	return nil
}

// Cancel abandons a Preparing raid and releases its locks. Owner only.
func (s *Service) Cancel(characterID, raidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.raids[raidID]
	if !ok {
		return errs.New(errs.RaidNotFound)
	}
	if r.CharacterID != characterID {
		return errs.New(errs.NotYourRaid)
	}
	if r.Status != StatusPreparing {
		return errs.New(errs.RaidNotPreparing)
	}
	s.abandonLocked(r, "cancelled")
	return nil
}

// CleanupExpired abandons every non-Committed raid past its expiry,
// releasing the locks.
func (s *Service) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleaned := 0
	for _, r := range s.raids {
		if r.Status == StatusCommitted || r.Status == StatusAbandoned {
			continue
		}
		if now.After(r.ExpiresAt) {
			s.abandonLocked(r, "expired")
			cleaned++
		}
	}
	return cleaned
}

// ActiveCount returns the number of non-terminal raid sessions.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byChar)
}

// Get returns a copy of the session.
func (s *Service) Get(raidID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.raids[raidID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (s *Service) abandonLocked(r *Session, reason string) {
	s.inv.UnlockRaidItems(r.CharacterID, r.ID)
	r.Status = StatusAbandoned
	if s.byChar[r.CharacterID] == r.ID {
		delete(s.byChar, r.CharacterID)
	}
	s.log.Info("raid abandoned",
		zap.String("raid", r.ID),
		zap.String("character", r.CharacterID),
		zap.String("reason", reason),
	)
}

func (s *Service) secretOK(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.secret)) == 1
}

func (s *Service) commitMetric(result string) {
	if s.met != nil {
		s.met.RaidCommitsTotal.WithLabelValues(result).Inc()
	}
}

func (r *Session) clone() *Session {
	c := *r
	c.LockedIIDs = append([]string(nil), r.LockedIIDs...)
	c.PlayerIDs = append([]string(nil), r.PlayerIDs...)
	c.Loadout.Pockets = append([]string(nil), r.Loadout.Pockets...)
	return &c
}
