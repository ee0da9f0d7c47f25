// Package market runs player-to-player listings. A listed item moves into
// escrow rather than being copied, so the world item count is invariant
// under every market operation.
package market

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deadhold/backend/internal/errs"
	"github.com/deadhold/backend/internal/inventory"
	"github.com/deadhold/backend/internal/metrics"
)

const (
	feePercent     = 5 // listing fee and sale cut, of the asking price
	minDurationHrs = 1
	maxDurationHrs = 72
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type Listing struct {
	ID        string    `json:"listingId"`
	SellerID  string    `json:"sellerId"`
	IID       string    `json:"iid"`
	DefID     string    `json:"defId"`
	Price     int       `json:"price"`
	Fee       int       `json:"fee"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateResult pairs the new listing with the seller's stash delta.
type CreateResult struct {
	Listing *Listing                  `json:"listing"`
	Result  *inventory.MutationResult `json:"result"`
}

// BuyResult carries the sold listing plus both sides' stash deltas.
type BuyResult struct {
	Listing      *Listing                  `json:"listing"`
	BuyerResult  *inventory.MutationResult `json:"buyerResult"`
	SellerResult *inventory.MutationResult `json:"sellerResult"`
}

type Service struct {
	mu       sync.Mutex
	inv      *inventory.Service
	met      *metrics.Set
	log      *zap.Logger
	listings map[string]*Listing
	ops      *inventory.OpCache
}

func NewService(inv *inventory.Service, met *metrics.Set, log *zap.Logger) *Service {
	return &Service{
		inv:      inv,
		met:      met,
		log:      log.Named("market"),
		listings: make(map[string]*Listing),
		ops:      inventory.NewOpCache(),
	}
}

// Create lists an item for sale. The listing fee (5 %, minimum 1) is charged
// up front and is not refunded on cancel or expiry; it is refunded only when
// the escrow lock itself fails.
func (s *Service) Create(sellerID, opID, iid string, price, durationHours int) (*CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := replay[CreateResult](s.ops, sellerID, opID); ok {
		return res, nil
	}
	if price < 1 {
		return nil, errs.New(errs.PriceOutOfRange)
	}
	if durationHours < minDurationHrs || durationHours > maxDurationHrs {
		return nil, errs.New(errs.InvalidRequest)
	}
	items, err := s.inv.Instances(sellerID, []string{iid})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.New(errs.ItemNotFound)
	}

	fee := price * feePercent / 100
	if fee < 1 {
		fee = 1
	}
	if err := s.inv.SpendGold(sellerID, fee); err != nil {
		return nil, err
	}
	listingID := uuid.NewString()
	mut, err := s.inv.LockForEscrow(sellerID, iid, listingID)
	if err != nil {
		// The fee was charged but the item never left the stash.
		s.inv.AddGold(sellerID, fee)
		return nil, err
	}

	now := time.Now()
	l := &Listing{
		ID:        listingID,
		SellerID:  sellerID,
		IID:       iid,
		DefID:     items[0].DefID,
		Price:     price,
		Fee:       fee,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(durationHours) * time.Hour),
	}
	s.listings[listingID] = l
	s.log.Info("listing created",
		zap.String("listing", listingID),
		zap.String("seller", sellerID),
		zap.Int("price", price),
	)
	res := &CreateResult{Listing: l.clone(), Result: mut}
	remember(s.ops, s.log, sellerID, opID, res)
	return res, nil
}

// Cancel returns an Active listing's item from escrow. Owner only; the
// listing fee stays paid.
func (s *Service) Cancel(characterID, listingID string) (*CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[listingID]
	if !ok {
		return nil, errs.New(errs.ListingNotFound)
	}
	if l.SellerID != characterID {
		return nil, errs.New(errs.NotYourListing)
	}
	if l.Status != StatusActive {
		return nil, errs.New(errs.ListingNotActive)
	}
	mut, err := s.inv.ReturnFromEscrow(characterID, listingID)
	if err != nil {
		return nil, err
	}
	l.Status = StatusCancelled
	return &CreateResult{Listing: l.clone(), Result: mut}, nil
}

// Buy purchases an Active listing: buyer pays the asking price, the item
// transfers out of escrow, and the seller is credited price minus the 5 %
// sale cut. A listing past its expiry is expired on the spot.
func (s *Service) Buy(buyerID, opID, listingID string) (*BuyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := replay[BuyResult](s.ops, buyerID, opID); ok {
		return res, nil
	}
	l, ok := s.listings[listingID]
	if !ok {
		return nil, errs.New(errs.ListingNotFound)
	}
	if l.Status != StatusActive {
		return nil, errs.New(errs.ListingNotActive)
	}
	if time.Now().After(l.ExpiresAt) {
		s.expireLocked(l)
		return nil, errs.New(errs.ListingExpired)
	}
	if l.SellerID == buyerID {
		return nil, errs.New(errs.InvalidRequest)
	}

	if err := s.inv.SpendGold(buyerID, l.Price); err != nil {
		return nil, err
	}
	sellerMut, buyerMut, err := s.inv.TransferItem(l.SellerID, buyerID, l.IID)
	if err != nil {
		// Undo the spend; the listing stays Active.
		s.inv.AddGold(buyerID, l.Price)
		return nil, err
	}
	s.inv.AddGold(l.SellerID, l.Price*(100-feePercent)/100)
	l.Status = StatusSold
	if s.met != nil {
		s.met.ListingsSoldTotal.Inc()
	}
	s.log.Info("listing sold",
		zap.String("listing", listingID),
		zap.String("buyer", buyerID),
		zap.Int("price", l.Price),
	)
	res := &BuyResult{Listing: l.clone(), BuyerResult: buyerMut, SellerResult: sellerMut}
	remember(s.ops, s.log, buyerID, opID, res)
	return res, nil
}

// ExpireStale returns every Active listing past its expiry from escrow.
func (s *Service) ExpireStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for _, l := range s.listings {
		if l.Status == StatusActive && now.After(l.ExpiresAt) {
			s.expireLocked(l)
			expired++
		}
	}
	return expired
}

// GetMine returns every listing the character created, newest first.
func (s *Service) GetMine(characterID string) []*Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Listing
	for _, l := range s.listings {
		if l.SellerID == characterID {
			out = append(out, l.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveCount returns the number of listings open for purchase.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listings {
		if l.Status == StatusActive {
			n++
		}
	}
	return n
}

// Browse returns the Active listings, newest first.
func (s *Service) Browse() []*Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Listing
	for _, l := range s.listings {
		if l.Status == StatusActive {
			out = append(out, l.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Service) expireLocked(l *Listing) {
	if _, err := s.inv.ReturnFromEscrow(l.SellerID, l.ID); err != nil {
		s.log.Warn("expiry escrow return failed",
			zap.String("listing", l.ID),
			zap.Error(err),
		)
	}
	l.Status = StatusExpired
}

func (l *Listing) clone() *Listing {
	c := *l
	return &c
}

func replay[T any](ops *inventory.OpCache, characterID, opID string) (*T, bool) {
	if opID == "" {
		return nil, false
	}
	raw, ok := ops.Get(characterID + "/" + opID)
	if !ok {
		return nil, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

func remember(ops *inventory.OpCache, log *zap.Logger, characterID, opID string, v any) {
	if opID == "" {
		return
	}
	if err := ops.Store(characterID+"/"+opID, v); err != nil {
		log.Warn("op cache store failed", zap.Error(err))
	}
}
