// Package trader implements NPC buy/sell against the static catalog.
// Prices move with per-trader reputation; stock is the only mutable state.
package trader

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/data"
	"github.com/deadhold/backend/internal/errs"
	"github.com/deadhold/backend/internal/inventory"
)

const (
	priceRepFactor   = 0.15   // reputation discount on buy prices
	buybackRepFactor = 0.10   // reputation bonus on the buyback rate
	repPerUnitBuy    = 0.001  // reputation gained per unit bought
	repPerUnitSell   = 0.0005 // reputation gained per unit sold
)

// OfferView is one catalog line with the character's final price applied.
type OfferView struct {
	OfferID    string  `json:"offerId"`
	DefID      string  `json:"defId"`
	Name       string  `json:"name"`
	BasePrice  int     `json:"basePrice"`
	FinalPrice int     `json:"finalPrice"`
	Stock      int     `json:"stock"` // -1 = infinite
	MinLevel   int     `json:"minLevel"`
	MinRep     float64 `json:"minRep"`
}

// Catalog is one trader's offer list as seen by one character.
type Catalog struct {
	TraderID   string       `json:"traderId"`
	Name       string       `json:"name"`
	Reputation float64      `json:"reputation"`
	Offers     []*OfferView `json:"offers"`
}

// BuyResult reports a purchase: the minted items and the gold spent.
type BuyResult struct {
	Minted     []*inventory.ItemInstance `json:"minted"`
	GoldSpent  int                       `json:"goldSpent"`
	Reputation float64                   `json:"reputation"`
}

// SellResult reports a sale: the credit and the seller's stash delta.
type SellResult struct {
	GoldGained int                       `json:"goldGained"`
	Result     *inventory.MutationResult `json:"result"`
	Reputation float64                   `json:"reputation"`
}

type Service struct {
	mu      sync.Mutex
	traders *data.TraderTable
	items   *data.ItemTable
	inv     *inventory.Service
	log     *zap.Logger
	stock   map[string]int // traderID/offerID → remaining, finite offers only
	ops     *inventory.OpCache
}

func NewService(traders *data.TraderTable, items *data.ItemTable, inv *inventory.Service, log *zap.Logger) *Service {
	s := &Service{
		traders: traders,
		items:   items,
		inv:     inv,
		log:     log.Named("trader"),
		stock:   make(map[string]int),
		ops:     inventory.NewOpCache(),
	}
	s.restockLocked()
	return s
}

// ListOffers returns the trader's catalog with the character's reputation
// discount already applied.
func (s *Service) ListOffers(traderID, characterID string) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.traders.Get(traderID)
	if td == nil {
		return nil, errs.New(errs.TraderNotFound)
	}
	rep := s.inv.ReputationWith(characterID, traderID)
	cat := &Catalog{TraderID: td.ID, Name: td.Name, Reputation: rep}
	for _, o := range td.Offers {
		def := s.items.Get(o.DefID)
		cat.Offers = append(cat.Offers, &OfferView{
			OfferID:    o.ID,
			DefID:      o.DefID,
			Name:       def.Name,
			BasePrice:  o.Price,
			FinalPrice: buyPrice(o.Price, rep),
			Stock:      s.remainingLocked(td.ID, o),
			MinLevel:   o.MinLevel,
			MinRep:     o.MinRep,
		})
	}
	return cat, nil
}

// Buy purchases quantity units of an offer, minting them into the stash.
func (s *Service) Buy(characterID, opID, traderID, offerID string, quantity int) (*BuyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raw, ok := s.ops.Get(characterID + "/" + opID); ok && opID != "" {
		return decode[BuyResult](raw)
	}
	td := s.traders.Get(traderID)
	if td == nil {
		return nil, errs.New(errs.TraderNotFound)
	}
	offer := findOffer(td, offerID)
	if offer == nil {
		return nil, errs.New(errs.ItemNotFound)
	}
	if quantity < 1 {
		return nil, errs.New(errs.InvalidRequest)
	}
	level, err := s.inv.Level(characterID)
	if err != nil {
		return nil, err
	}
	if level < offer.MinLevel {
		return nil, errs.New(errs.LevelTooLow)
	}
	rep := s.inv.ReputationWith(characterID, traderID)
	if rep < offer.MinRep {
		return nil, errs.New(errs.ReputationTooLow)
	}
	remaining := s.remainingLocked(td.ID, offer)
	if remaining != -1 && remaining < quantity {
		return nil, errs.New(errs.OutOfStock)
	}

	total := buyPrice(offer.Price, rep) * quantity
	if err := s.inv.SpendGold(characterID, total); err != nil {
		return nil, err
	}
	def := s.items.Get(offer.DefID)
	minted, err := s.inv.MintLoot(characterID, stacksFor(def, quantity))
	if err != nil {
		s.inv.AddGold(characterID, total)
		return nil, err
	}
	if remaining != -1 {
		s.stock[stockKey(td.ID, offer.ID)] = remaining - quantity
	}
	s.inv.AddReputation(characterID, traderID, repPerUnitBuy*float64(quantity))

	res := &BuyResult{
		Minted:     minted,
		GoldSpent:  total,
		Reputation: s.inv.ReputationWith(characterID, traderID),
	}
	if opID != "" {
		if err := s.ops.Store(characterID+"/"+opID, res); err != nil {
			s.log.Warn("op cache store failed", zap.Error(err))
		}
	}
	return res, nil
}

// Sell hands quantity units of an owned item to the trader for gold. The
// credit scales with the item's base value, the trader's buyback rate plus
// the reputation bonus, and the item's durability.
func (s *Service) Sell(characterID, opID, traderID, iid string, quantity int) (*SellResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raw, ok := s.ops.Get(characterID + "/" + opID); ok && opID != "" {
		return decode[SellResult](raw)
	}
	td := s.traders.Get(traderID)
	if td == nil {
		return nil, errs.New(errs.TraderNotFound)
	}
	items, err := s.inv.Instances(characterID, []string{iid})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.New(errs.ItemNotFound)
	}
	def := s.items.Get(items[0].DefID)
	if !td.Accepts(def.Category) {
		return nil, errs.New(errs.InvalidRequest)
	}

	rep := s.inv.ReputationWith(characterID, traderID)
	receipt, mut, err := s.inv.ConsumeStack(characterID, iid, quantity)
	if err != nil {
		return nil, err
	}
	buyback := td.BuybackRate + buybackRepFactor*rep
	credit := int(float64(def.BaseValue) * buyback * receipt.Durability * float64(receipt.Consumed))
	if credit < 0 {
		credit = 0
	}
	s.inv.AddGold(characterID, credit)
	s.inv.AddReputation(characterID, traderID, repPerUnitSell*float64(receipt.Consumed))

	res := &SellResult{
		GoldGained: credit,
		Result:     mut,
		Reputation: s.inv.ReputationWith(characterID, traderID),
	}
	if opID != "" {
		if err := s.ops.Store(characterID+"/"+opID, res); err != nil {
			s.log.Warn("op cache store failed", zap.Error(err))
		}
	}
	return res, nil
}

// RestockAll resets every finite offer back to its definition default.
func (s *Service) RestockAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restockLocked()
	s.log.Info("traders restocked")
}

func (s *Service) restockLocked() {
	for _, td := range s.traders.All() {
		for _, o := range td.Offers {
			if o.Stock >= 0 {
				s.stock[stockKey(td.ID, o.ID)] = o.Stock
			}
		}
	}
}

func (s *Service) remainingLocked(traderID string, o *data.TraderOffer) int {
	if o.Stock < 0 {
		return -1
	}
	return s.stock[stockKey(traderID, o.ID)]
}

// buyPrice applies the reputation discount, never dropping below 1 gold.
func buyPrice(base int, rep float64) int {
	p := int(float64(base) * (1 - priceRepFactor*rep))
	if p < 1 {
		p = 1
	}
	return p
}

// stacksFor splits a quantity into max-stack-sized mint entries.
func stacksFor(def *data.ItemDef, quantity int) []inventory.LootStack {
	var out []inventory.LootStack
	for quantity > 0 {
		n := quantity
		if n > def.MaxStack {
			n = def.MaxStack
		}
		out = append(out, inventory.LootStack{DefID: def.ID, Stack: n})
		quantity -= n
	}
	return out
}

func findOffer(td *data.TraderDef, offerID string) *data.TraderOffer {
	for _, o := range td.Offers {
		if o.ID == offerID {
			return o
		}
	}
	return nil
}

func stockKey(traderID, offerID string) string {
	return traderID + "/" + offerID
}

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
