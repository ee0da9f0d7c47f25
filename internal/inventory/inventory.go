// Package inventory owns per-character items, the grid stash, and the
// wallet. It is the single authority on item existence: raid and market flows
// call in through composite operations (LockForRaid, ApplyRaidOutcome,
// LockForEscrow, TransferItem) and never mutate items directly, which is what
// keeps the anti-dupe invariants enforceable in one place.
package inventory

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/data"
	"github.com/deadhold/backend/internal/errs"
)

// ItemFlags is the mutable lock/ownership state on one instance.
type ItemFlags struct {
	InRaid          bool   `json:"inRaid"`
	RaidID          string `json:"raidId,omitempty"`
	InEscrow        bool   `json:"inEscrow"`
	EscrowListingID string `json:"escrowListingId,omitempty"`
	Insured         bool   `json:"insured"`
	NonTradeable    bool   `json:"nonTradeable"`
	QuestBound      bool   `json:"questBound"`
}

// ItemInstance is one owned item. Immutable properties live on the
// definition; everything here is per-instance state.
type ItemInstance struct {
	IID        string    `json:"iid"`
	DefID      string    `json:"defId"`
	Stack      int       `json:"stack"`
	Durability float64   `json:"durability"`
	Flags      ItemFlags `json:"flags"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Placement is one item's position in the stash grid. Rotation 1 swaps the
// definition's width and height. Items in escrow have no placement.
type Placement struct {
	IID      string `json:"iid"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Rotation int    `json:"rotation"`
}

// Delta is the minimal change set a client applies to its local snapshot.
type Delta struct {
	Added   []*ItemInstance `json:"added"`
	Removed []string        `json:"removed"`
	Updated []*ItemInstance `json:"updated"`
	Moved   []*Placement    `json:"moved"`
}

// MutationResult pairs a delta with the stash version it produced.
type MutationResult struct {
	Version int64 `json:"version"`
	Delta   Delta `json:"delta"`
}

// Snapshot is the full reconciliation view of one character.
type Snapshot struct {
	CharacterID string          `json:"characterId"`
	Name        string          `json:"name"`
	Level       int             `json:"level"`
	XP          int             `json:"xp"`
	Gold        int             `json:"gold"`
	StashWidth  int             `json:"stashWidth"`
	StashHeight int             `json:"stashHeight"`
	Version     int64           `json:"version"`
	Items       []*ItemInstance `json:"items"`
	Placements  []*Placement    `json:"placements"`
}

// LootStack is one entry of provisional loot to mint.
type LootStack struct {
	DefID      string  `json:"defId"`
	Stack      int     `json:"stack"`
	Durability float64 `json:"durability,omitempty"`
}

// DurabilityUpdate sets one item's durability, clamped to [0,1].
type DurabilityUpdate struct {
	IID        string  `json:"iid"`
	Durability float64 `json:"durability"`
}

// ConsumeReceipt reports what ConsumeStack actually took.
type ConsumeReceipt struct {
	DefID      string
	Consumed   int
	Durability float64
}

type character struct {
	id         string
	accountID  string
	name       string
	xp         int
	gold       int
	stashW     int
	stashH     int
	items      map[string]*ItemInstance
	placements map[string]*Placement
	reputation map[string]float64
	version    int64
}

// Service serializes all inventory mutations behind one mutex. Critical
// sections are in-memory map updates plus small loops over placements.
type Service struct {
	mu    sync.Mutex
	defs  *data.ItemTable
	chars map[string]*character
	ops   *OpCache
	log   *zap.Logger
}

func NewService(defs *data.ItemTable, log *zap.Logger) *Service {
	return &Service{
		defs:  defs,
		chars: make(map[string]*character),
		ops:   NewOpCache(),
		log:   log.Named("inventory"),
	}
}

// Seed creates a character from boot data. Seed items with coordinates are
// placed there when the slot is free, otherwise auto-placed.
func (s *Service) Seed(seed *data.SeedCharacter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.chars[seed.ID]; dup {
		return errs.New(errs.InvalidRequest)
	}
	c := &character{
		id:         seed.ID,
		accountID:  seed.AccountID,
		name:       seed.Name,
		xp:         seed.XP,
		gold:       seed.Gold,
		stashW:     seed.StashWidth,
		stashH:     seed.StashHeight,
		items:      make(map[string]*ItemInstance),
		placements: make(map[string]*Placement),
		reputation: make(map[string]float64),
		version:    1,
	}
	for _, si := range seed.Items {
		def := s.defs.Get(si.DefID)
		it := &ItemInstance{
			IID:        uuid.NewString(),
			DefID:      si.DefID,
			Stack:      si.Stack,
			Durability: si.Durability,
			Flags:      ItemFlags{Insured: si.Insured, QuestBound: si.QuestBound},
			CreatedAt:  time.Now(),
		}
		c.items[it.IID] = it
		if si.X >= 0 && si.Y >= 0 && s.freeAt(c, "", si.X, si.Y, def, si.Rotation) {
			c.placements[it.IID] = &Placement{IID: it.IID, X: si.X, Y: si.Y, Rotation: si.Rotation}
			continue
		}
		if p, ok := s.autoPlace(c, def); ok {
			p.IID = it.IID
			c.placements[it.IID] = p
		}
	}
	s.chars[seed.ID] = c
	return nil
}

// Snapshot returns the full stash + wallet view, sorted for stable output.
func (s *Service) Snapshot(characterID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		CharacterID: c.id,
		Name:        c.name,
		Level:       levelFor(c.xp),
		XP:          c.xp,
		Gold:        c.gold,
		StashWidth:  c.stashW,
		StashHeight: c.stashH,
		Version:     c.version,
	}
	for _, it := range c.items {
		snap.Items = append(snap.Items, cloneItem(it))
	}
	for _, p := range c.placements {
		snap.Placements = append(snap.Placements, clonePlacement(p))
	}
	sort.Slice(snap.Items, func(i, j int) bool { return snap.Items[i].IID < snap.Items[j].IID })
	sort.Slice(snap.Placements, func(i, j int) bool { return snap.Placements[i].IID < snap.Placements[j].IID })
	return snap, nil
}

// MoveItem places an item at (x, y) with the given rotation. An unplaced
// item moved to a free slot becomes visible in the grid again.
func (s *Service) MoveItem(characterID, opID, iid string, x, y, rotation int) (*MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.replay(characterID, opID); ok {
		return res, nil
	}
	c, it, err := s.charItem(characterID, iid)
	if err != nil {
		return nil, err
	}
	if err := mutable(it); err != nil {
		return nil, err
	}
	if rotation != 0 && rotation != 1 {
		return nil, errs.New(errs.InvalidRequest)
	}
	def := s.defs.Get(it.DefID)
	if !s.inBounds(c, x, y, def, rotation) {
		return nil, errs.New(errs.PositionOutOfBound)
	}
	if !s.freeAt(c, iid, x, y, def, rotation) {
		return nil, errs.New(errs.PositionBlocked)
	}
	p := &Placement{IID: iid, X: x, Y: y, Rotation: rotation}
	c.placements[iid] = p
	res := s.commit(c, Delta{Moved: []*Placement{clonePlacement(p)}})
	s.remember(characterID, opID, res)
	return res, nil
}

// SplitStack peels amount units off a stack into a new instance at (x, y).
func (s *Service) SplitStack(characterID, opID, iid string, amount, x, y int) (*MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.replay(characterID, opID); ok {
		return res, nil
	}
	c, it, err := s.charItem(characterID, iid)
	if err != nil {
		return nil, err
	}
	if err := mutable(it); err != nil {
		return nil, err
	}
	def := s.defs.Get(it.DefID)
	if !def.Stackable() || amount < 1 || amount >= it.Stack {
		return nil, errs.New(errs.InvalidStack)
	}
	if !s.inBounds(c, x, y, def, 0) {
		return nil, errs.New(errs.PositionOutOfBound)
	}
	if !s.freeAt(c, "", x, y, def, 0) {
		return nil, errs.New(errs.PositionBlocked)
	}
	split := &ItemInstance{
		IID:        uuid.NewString(),
		DefID:      it.DefID,
		Stack:      amount,
		Durability: it.Durability,
		Flags: ItemFlags{
			Insured:      it.Flags.Insured,
			NonTradeable: it.Flags.NonTradeable,
			QuestBound:   it.Flags.QuestBound,
		},
		CreatedAt: time.Now(),
	}
	it.Stack -= amount
	c.items[split.IID] = split
	p := &Placement{IID: split.IID, X: x, Y: y}
	c.placements[split.IID] = p
	res := s.commit(c, Delta{
		Added:   []*ItemInstance{cloneItem(split)},
		Updated: []*ItemInstance{cloneItem(it)},
		Moved:   []*Placement{clonePlacement(p)},
	})
	s.remember(characterID, opID, res)
	return res, nil
}

// DiscardItem destroys an item and its placement.
func (s *Service) DiscardItem(characterID, opID, iid string) (*MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.replay(characterID, opID); ok {
		return res, nil
	}
	c, it, err := s.charItem(characterID, iid)
	if err != nil {
		return nil, err
	}
	if err := mutable(it); err != nil {
		return nil, err
	}
	delete(c.items, iid)
	delete(c.placements, iid)
	res := s.commit(c, Delta{Removed: []string{iid}})
	s.remember(characterID, opID, res)
	return res, nil
}

// LockForRaid sets the in-raid flag on every iid, all-or-nothing. If any
// item is missing or already locked, no flags change.
func (s *Service) LockForRaid(characterID string, iids []string, raidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return err
	}
	for _, iid := range iids {
		it, ok := c.items[iid]
		if !ok {
			return errs.New(errs.ItemNotFound)
		}
		if it.Flags.InRaid || it.Flags.InEscrow {
			return errs.New(errs.ItemsAlreadyLocked)
		}
	}
	for _, iid := range iids {
		c.items[iid].Flags.InRaid = true
		c.items[iid].Flags.RaidID = raidID
	}
	if len(iids) > 0 {
		c.version++
	}
	return nil
}

// UnlockRaidItems clears the in-raid flag on every item locked by raidID.
func (s *Service) UnlockRaidItems(characterID, raidID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return
	}
	if s.unlockRaidLocked(c, raidID) {
		c.version++
	}
}

// RemoveItems destroys the given items, silently skipping missing iids.
func (s *Service) RemoveItems(characterID string, iids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return
	}
	if s.removeItemsLocked(c, iids) {
		c.version++
	}
}

// RaidOutcomeApply bundles everything a committed raid outcome changes.
// LostIIDs names the items an extract left behind; LoseUninsured instead
// destroys the uninsured subset of the items locked by RaidID, the death
// path. Both paths finish by releasing the raid locks.
type RaidOutcomeApply struct {
	RaidID        string
	Loot          []LootStack
	LostIIDs      []string
	LoseUninsured bool
	Durability    []DurabilityUpdate
	Gold          int
	XP            int
}

// ApplyRaidOutcome applies a committed raid outcome in one critical section:
// mint, remove, durability, wallet, XP, and the lock release land under a
// single version bump, so a concurrent Snapshot sees either none of it or all
// of it.
func (s *Service) ApplyRaidOutcome(characterID string, apply RaidOutcomeApply) ([]*ItemInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return nil, err
	}
	minted := s.mintLocked(c, apply.Loot)
	lost := append([]string(nil), apply.LostIIDs...)
	if apply.LoseUninsured {
		for iid, it := range c.items {
			if it.Flags.InRaid && it.Flags.RaidID == apply.RaidID && !it.Flags.Insured {
				lost = append(lost, iid)
			}
		}
	}
	s.removeItemsLocked(c, lost)
	s.updateDurabilityLocked(c, apply.Durability)
	if apply.Gold > 0 {
		c.gold += apply.Gold
	}
	if apply.XP > 0 {
		c.xp += apply.XP
	}
	s.unlockRaidLocked(c, apply.RaidID)
	c.version++
	return minted, nil
}

// MintLoot creates new instances and auto-places them first-fit. When the
// grid is full the item is minted without a placement: still owned,
// invisible until moved. Unknown definitions are skipped.
func (s *Service) MintLoot(characterID string, loot []LootStack) ([]*ItemInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return nil, err
	}
	minted := s.mintLocked(c, loot)
	if len(minted) > 0 {
		c.version++
	}
	return minted, nil
}

// UpdateDurability applies durability changes, clamped to [0,1]. Missing
// iids are skipped.
func (s *Service) UpdateDurability(characterID string, updates []DurabilityUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return
	}
	if s.updateDurabilityLocked(c, updates) {
		c.version++
	}
}

// AddGold credits the wallet.
func (s *Service) AddGold(characterID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return err
	}
	if amount < 0 {
		return errs.New(errs.InvalidRequest)
	}
	if amount > 0 {
		c.gold += amount
		c.version++
	}
	return nil
}

// SpendGold debits the wallet. Insufficient funds leave it unchanged.
func (s *Service) SpendGold(characterID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return err
	}
	if amount < 0 {
		return errs.New(errs.InvalidRequest)
	}
	if c.gold < amount {
		return errs.New(errs.InsufficientFunds)
	}
	c.gold -= amount
	c.version++
	return nil
}

// AddXP bumps the experience counter. Level is derived, never stored.
func (s *Service) AddXP(characterID string, amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil || amount <= 0 {
		return
	}
	c.xp += amount
	c.version++
}

// Gold returns the wallet balance.
func (s *Service) Gold(characterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return 0, err
	}
	return c.gold, nil
}

// Level returns the derived level, 1 plus one per thousand XP.
func (s *Service) Level(characterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return 0, err
	}
	return levelFor(c.xp), nil
}

// ReputationWith returns the character's standing with one trader.
func (s *Service) ReputationWith(characterID, traderID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return 0
	}
	return c.reputation[traderID]
}

// AddReputation shifts standing with a trader, clamped to [-1,1].
func (s *Service) AddReputation(characterID, traderID string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return
	}
	rep := c.reputation[traderID] + delta
	if rep > 1 {
		rep = 1
	}
	if rep < -1 {
		rep = -1
	}
	c.reputation[traderID] = rep
}

// LockForEscrow moves an item into escrow for a market listing: flags set,
// placement removed. The item stays owned but leaves the grid.
func (s *Service) LockForEscrow(characterID, iid, listingID string) (*MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, it, err := s.charItem(characterID, iid)
	if err != nil {
		return nil, err
	}
	if err := mutable(it); err != nil {
		return nil, err
	}
	if it.Flags.NonTradeable {
		return nil, errs.New(errs.ItemNonTradeable)
	}
	if it.Flags.QuestBound {
		return nil, errs.New(errs.ItemQuestBound)
	}
	it.Flags.InEscrow = true
	it.Flags.EscrowListingID = listingID
	delete(c.placements, iid)
	return s.commit(c, Delta{Updated: []*ItemInstance{cloneItem(it)}}), nil
}

// ReturnFromEscrow releases the item held for listingID back to the stash,
// auto-placing it where room allows.
func (s *Service) ReturnFromEscrow(characterID, listingID string) (*MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return nil, err
	}
	var it *ItemInstance
	for _, cand := range c.items {
		if cand.Flags.InEscrow && cand.Flags.EscrowListingID == listingID {
			it = cand
			break
		}
	}
	if it == nil {
		return nil, errs.New(errs.ItemNotFound)
	}
	it.Flags.InEscrow = false
	it.Flags.EscrowListingID = ""
	delta := Delta{Updated: []*ItemInstance{cloneItem(it)}}
	if p, ok := s.autoPlace(c, s.defs.Get(it.DefID)); ok {
		p.IID = it.IID
		c.placements[it.IID] = p
		delta.Moved = []*Placement{clonePlacement(p)}
	}
	return s.commit(c, delta), nil
}

// TransferItem moves an escrowed item from one character to another: the
// market buy path. Returns the seller-side and buyer-side deltas.
func (s *Service) TransferItem(fromID, toID, iid string) (*MutationResult, *MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, it, err := s.charItem(fromID, iid)
	if err != nil {
		return nil, nil, err
	}
	to, err := s.char(toID)
	if err != nil {
		return nil, nil, err
	}
	if !it.Flags.InEscrow {
		return nil, nil, errs.New(errs.ItemNotFound)
	}
	delete(from.items, iid)
	delete(from.placements, iid)
	it.Flags.InEscrow = false
	it.Flags.EscrowListingID = ""
	it.Flags.Insured = false
	to.items[iid] = it
	toDelta := Delta{Added: []*ItemInstance{cloneItem(it)}}
	if p, ok := s.autoPlace(to, s.defs.Get(it.DefID)); ok {
		p.IID = iid
		to.placements[iid] = p
		toDelta.Moved = []*Placement{clonePlacement(p)}
	}
	fromRes := s.commit(from, Delta{Removed: []string{iid}})
	toRes := s.commit(to, toDelta)
	return fromRes, toRes, nil
}

// ConsumeStack takes quantity units off a stack, removing the instance when
// it empties: the trader sell path.
func (s *Service) ConsumeStack(characterID, iid string, quantity int) (*ConsumeReceipt, *MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, it, err := s.charItem(characterID, iid)
	if err != nil {
		return nil, nil, err
	}
	if err := mutable(it); err != nil {
		return nil, nil, err
	}
	if quantity < 1 || quantity > it.Stack {
		return nil, nil, errs.New(errs.InvalidStack)
	}
	receipt := &ConsumeReceipt{DefID: it.DefID, Consumed: quantity, Durability: it.Durability}
	var delta Delta
	if quantity == it.Stack {
		delete(c.items, iid)
		delete(c.placements, iid)
		delta.Removed = []string{iid}
	} else {
		it.Stack -= quantity
		delta.Updated = []*ItemInstance{cloneItem(it)}
	}
	return receipt, s.commit(c, delta), nil
}

// Instances returns copies of the given items, skipping missing iids.
func (s *Service) Instances(characterID string, iids []string) ([]*ItemInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return nil, err
	}
	out := make([]*ItemInstance, 0, len(iids))
	for _, iid := range iids {
		if it, ok := c.items[iid]; ok {
			out = append(out, cloneItem(it))
		}
	}
	return out, nil
}

// FilterUninsured returns the subset of iids whose items are not insured:
// the set a death actually costs the player.
func (s *Service) FilterUninsured(characterID string, iids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.char(characterID)
	if err != nil {
		return nil
	}
	var out []string
	for _, iid := range iids {
		if it, ok := c.items[iid]; ok && !it.Flags.Insured {
			out = append(out, iid)
		}
	}
	return out
}

// Exists reports whether the character is known.
func (s *Service) Exists(characterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chars[characterID]
	return ok
}

// -- internals ------------------------------------------------------------

func (s *Service) char(id string) (*character, error) {
	c, ok := s.chars[id]
	if !ok {
		return nil, errs.New(errs.CharacterNotFound)
	}
	return c, nil
}

func (s *Service) charItem(characterID, iid string) (*character, *ItemInstance, error) {
	c, err := s.char(characterID)
	if err != nil {
		return nil, nil, err
	}
	it, ok := c.items[iid]
	if !ok {
		return nil, nil, errs.New(errs.ItemNotFound)
	}
	return c, it, nil
}

// mintLocked creates instances and auto-places them first-fit. When the grid
// is full the item is minted without a placement: still owned, invisible
// until moved. Unknown definitions are skipped. Caller holds the mutex and
// owns the version bump.
func (s *Service) mintLocked(c *character, loot []LootStack) []*ItemInstance {
	var minted []*ItemInstance
	for _, l := range loot {
		def := s.defs.Get(l.DefID)
		if def == nil {
			s.log.Warn("loot references unknown definition", zap.String("def", l.DefID))
			continue
		}
		stack := l.Stack
		if stack < 1 {
			stack = 1
		}
		if stack > def.MaxStack {
			stack = def.MaxStack
		}
		dur := l.Durability
		if dur <= 0 || dur > 1 {
			dur = 1
		}
		it := &ItemInstance{
			IID:        uuid.NewString(),
			DefID:      l.DefID,
			Stack:      stack,
			Durability: dur,
			CreatedAt:  time.Now(),
		}
		c.items[it.IID] = it
		if p, ok := s.autoPlace(c, def); ok {
			p.IID = it.IID
			c.placements[it.IID] = p
		}
		minted = append(minted, cloneItem(it))
	}
	return minted
}

func (s *Service) removeItemsLocked(c *character, iids []string) bool {
	removed := false
	for _, iid := range iids {
		if _, ok := c.items[iid]; ok {
			delete(c.items, iid)
			delete(c.placements, iid)
			removed = true
		}
	}
	return removed
}

func (s *Service) updateDurabilityLocked(c *character, updates []DurabilityUpdate) bool {
	changed := false
	for _, u := range updates {
		it, ok := c.items[u.IID]
		if !ok {
			continue
		}
		d := u.Durability
		if d < 0 {
			d = 0
		}
		if d > 1 {
			d = 1
		}
		it.Durability = d
		changed = true
	}
	return changed
}

func (s *Service) unlockRaidLocked(c *character, raidID string) bool {
	changed := false
	for _, it := range c.items {
		if it.Flags.InRaid && it.Flags.RaidID == raidID {
			it.Flags.InRaid = false
			it.Flags.RaidID = ""
			changed = true
		}
	}
	return changed
}

// mutable rejects items held by a raid or a listing.
func mutable(it *ItemInstance) error {
	if it.Flags.InRaid {
		return errs.New(errs.ItemLockedRaid)
	}
	if it.Flags.InEscrow {
		return errs.New(errs.ItemLockedEscrow)
	}
	return nil
}

// commit stamps the next stash version and wraps the delta.
func (s *Service) commit(c *character, delta Delta) *MutationResult {
	c.version++
	return &MutationResult{Version: c.version, Delta: delta}
}

func (s *Service) replay(characterID, opID string) (*MutationResult, bool) {
	if opID == "" {
		return nil, false
	}
	raw, ok := s.ops.Get(characterID + "/" + opID)
	if !ok {
		return nil, false
	}
	var res MutationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (s *Service) remember(characterID, opID string, res *MutationResult) {
	if opID == "" {
		return
	}
	if err := s.ops.Store(characterID+"/"+opID, res); err != nil {
		s.log.Warn("op cache store failed", zap.Error(err))
	}
}

func dims(def *data.ItemDef, rotation int) (int, int) {
	if rotation == 1 {
		return def.Height, def.Width
	}
	return def.Width, def.Height
}

func (s *Service) inBounds(c *character, x, y int, def *data.ItemDef, rotation int) bool {
	w, h := dims(def, rotation)
	return x >= 0 && y >= 0 && x+w <= c.stashW && y+h <= c.stashH
}

// freeAt reports whether the rotation-adjusted rectangle at (x, y) collides
// with no placement other than exclude. Does not bounds-check.
func (s *Service) freeAt(c *character, exclude string, x, y int, def *data.ItemDef, rotation int) bool {
	w, h := dims(def, rotation)
	for iid, p := range c.placements {
		if iid == exclude {
			continue
		}
		other := s.defs.Get(c.items[iid].DefID)
		ow, oh := dims(other, p.Rotation)
		if !(x+w <= p.X || p.X+ow <= x || y+h <= p.Y || p.Y+oh <= y) {
			return false
		}
	}
	return true
}

// autoPlace finds the first-fit slot, scanning y upward then x left to
// right, rotation 0 only. The returned placement has no IID yet.
func (s *Service) autoPlace(c *character, def *data.ItemDef) (*Placement, bool) {
	if def == nil {
		return nil, false
	}
	for y := 0; y+def.Height <= c.stashH; y++ {
		for x := 0; x+def.Width <= c.stashW; x++ {
			if s.freeAt(c, "", x, y, def, 0) {
				return &Placement{X: x, Y: y}, true
			}
		}
	}
	return nil, false
}

func levelFor(xp int) int {
	return 1 + xp/1000
}

func cloneItem(it *ItemInstance) *ItemInstance {
	c := *it
	return &c
}

func clonePlacement(p *Placement) *Placement {
	c := *p
	return &c
}
