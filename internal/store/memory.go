package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"recurring-orders/internal/models"
	"recurring-orders/internal/subscription"
)

// MemoryStore is an in-memory Store for local runs and tests.
// Records are copied on the way in and out, so callers never share state.
type MemoryStore struct {
	mu            sync.RWMutex
	seq           uint
	subscriptions map[uint]*models.Subscription
	orders        map[uint]*models.Order
	links         map[uint][]uint // subscription id -> order ids
	payments      []models.Payment
	cards         map[uint]*models.CreditCard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[uint]*models.Subscription),
		orders:        make(map[uint]*models.Order),
		links:         make(map[uint][]uint),
		cards:         make(map[uint]*models.CreditCard),
	}
}

func (s *MemoryStore) nextID() uint {
	s.seq++
	return s.seq
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneSubscription(in *models.Subscription) *models.Subscription {
	out := *in
	out.LastRenewalAt = copyTime(in.LastRenewalAt)
	out.NextRenewalAt = copyTime(in.NextRenewalAt)
	out.LastAttemptAt = copyTime(in.LastAttemptAt)
	out.ResumeAt = copyTime(in.ResumeAt)
	out.ClaimedAt = copyTime(in.ClaimedAt)
	if in.CreditCardID != nil {
		id := *in.CreditCardID
		out.CreditCardID = &id
	}
	if in.CreditCard != nil {
		card := *in.CreditCard
		out.CreditCard = &card
	}
	out.Items = append([]models.SubscriptionItem(nil), in.Items...)
	out.Skips = make([]models.SubscriptionSkip, len(in.Skips))
	for i, k := range in.Skips {
		k.UndoAt = copyTime(k.UndoAt)
		k.RenewedAt = copyTime(k.RenewedAt)
		out.Skips[i] = k
	}
	return &out
}

func cloneOrder(in *models.Order) *models.Order {
	out := *in
	out.CompletedAt = copyTime(in.CompletedAt)
	out.LineItems = append([]models.LineItem(nil), in.LineItems...)
	if in.BillAddress != nil {
		a := *in.BillAddress
		out.BillAddress = &a
	}
	if in.ShipAddress != nil {
		a := *in.ShipAddress
		out.ShipAddress = &a
	}
	return &out
}

func (s *MemoryStore) hasCompletedOrder(subscriptionID uint) bool {
	for _, id := range s.links[subscriptionID] {
		if o, ok := s.orders[id]; ok && o.Complete() {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetSubscription(_ context.Context, id uint) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneSubscription(sub)
	if out.CreditCardID != nil {
		if card, ok := s.cards[*out.CreditCardID]; ok {
			c := *card
			out.CreditCard = &c
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *models.Subscription, orderID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sub.ID = s.nextID()
	sub.CreatedAt, sub.UpdatedAt = now, now
	if sub.BillAddressID == 0 {
		if sub.BillAddress.ID == 0 {
			sub.BillAddress.ID = s.nextID()
		}
		sub.BillAddressID = sub.BillAddress.ID
	}
	if sub.ShipAddressID == 0 {
		if sub.ShipAddress.ID == 0 {
			sub.ShipAddress.ID = s.nextID()
		}
		sub.ShipAddressID = sub.ShipAddress.ID
	}
	for i := range sub.Items {
		sub.Items[i].ID = s.nextID()
		sub.Items[i].SubscriptionID = sub.ID
	}
	for i := range sub.Skips {
		sub.Skips[i].ID = s.nextID()
		sub.Skips[i].SubscriptionID = sub.ID
	}
	if sub.CreditCard != nil {
		if sub.CreditCard.ID == 0 {
			sub.CreditCard.ID = s.nextID()
		}
		card := *sub.CreditCard
		s.cards[card.ID] = &card
		id := card.ID
		sub.CreditCardID = &id
	}
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	if orderID != 0 {
		s.links[sub.ID] = append(s.links[sub.ID], orderID)
	}
	return nil
}

func (s *MemoryStore) ListByTelegramID(_ context.Context, telegramID int64) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Subscription
	for _, sub := range s.subscriptions {
		if sub.User.TelegramID == telegramID {
			out = append(out, *cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FailingSubscriptions(_ context.Context) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Subscription
	for _, sub := range s.subscriptions {
		if (sub.State == subscription.StateActive || sub.State == subscription.StateRenewing) && sub.FailureCount > 0 {
			out = append(out, *cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastRenewalAt, out[j].LastRenewalAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out, nil
}

func (s *MemoryStore) DueSubscriptionIDs(_ context.Context, now time.Time, threshold int) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy := subscription.NewFailurePolicy(threshold)
	var ids []uint
	for id, sub := range s.subscriptions {
		if subscription.DueForRenewal(sub.Candidate(s.hasCompletedOrder(id)), now, policy) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) ResumableSubscriptionIDs(_ context.Context, now time.Time) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint
	for id, sub := range s.subscriptions {
		if subscription.ReadyToResume(sub.State, sub.ResumeAt, now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) StaleClaimIDs(_ context.Context, claimedBefore time.Time) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint
	for id, sub := range s.subscriptions {
		if sub.State == subscription.StateRenewing && sub.ClaimedAt != nil && sub.ClaimedAt.Before(claimedBefore) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) UpcomingRenewals(_ context.Context, from, to time.Time) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Subscription
	for _, sub := range s.subscriptions {
		if sub.State != subscription.StateActive || sub.NextRenewalAt == nil {
			continue
		}
		if !sub.NextRenewalAt.Before(from) && !sub.NextRenewalAt.After(to) {
			out = append(out, *cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, t Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[t.ID]
	if !ok || sub.State != t.From {
		return false, nil
	}
	if t.From == subscription.StateRenewing && sub.ClaimToken != t.ClaimToken {
		return false, nil
	}

	sub.State = t.To
	sub.UpdatedAt = t.At
	if t.To == subscription.StateRenewing {
		sub.ClaimToken = t.NewClaim
		sub.ClaimedAt = copyTime(&t.At)
	} else {
		sub.ClaimToken = ""
		sub.ClaimedAt = nil
	}
	if t.To == subscription.StatePaused {
		sub.ResumeAt = copyTime(t.ResumeAt)
	} else {
		sub.ResumeAt = nil
	}
	if t.FailureCount != nil {
		sub.FailureCount = *t.FailureCount
	}
	if t.StructuralFailureCount != nil {
		sub.StructuralFailureCount = *t.StructuralFailureCount
	}
	if t.LastRenewalAt != nil {
		sub.LastRenewalAt = copyTime(t.LastRenewalAt)
	}
	if t.NextRenewalAt != nil {
		sub.NextRenewalAt = copyTime(t.NextRenewalAt)
	}
	if t.LastAttemptAt != nil {
		sub.LastAttemptAt = copyTime(t.LastAttemptAt)
	}
	return true, nil
}

func (s *MemoryStore) ReplaceCreditCard(_ context.Context, subscriptionID uint, card *models.CreditCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return ErrNotFound
	}
	if card.UserID == 0 {
		card.UserID = sub.UserID
	}
	card.ID = s.nextID()
	stored := *card
	s.cards[card.ID] = &stored

	id := card.ID
	sub.CreditCardID = &id
	sub.CreditCard = &stored
	sub.FailureCount = 0
	return nil
}

func (s *MemoryStore) AdjustSku(_ context.Context, oldSku, newSku string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sub := range s.subscriptions {
		for i := range sub.Items {
			if sub.Items[i].VariantSKU == oldSku {
				sub.Items[i].VariantSKU = newSku
				n++
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) ActiveSkip(_ context.Context, subscriptionID uint) (*models.SubscriptionSkip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, nil
	}
	if skip := sub.ActiveSkip(); skip != nil {
		out := *skip
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryStore) CreateSkip(_ context.Context, skip *models.SubscriptionSkip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[skip.SubscriptionID]
	if !ok {
		return ErrNotFound
	}
	skip.ID = s.nextID()
	skip.CreatedAt = time.Now()
	sub.Skips = append(sub.Skips, *skip)
	return nil
}

func (s *MemoryStore) closeSkip(skipID uint, close func(k *models.SubscriptionSkip)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		for i := range sub.Skips {
			k := &sub.Skips[i]
			if k.ID != skipID {
				continue
			}
			if !k.Entry().Active() {
				return ErrNotFound
			}
			close(k)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) UndoSkip(_ context.Context, skipID uint, at time.Time) error {
	return s.closeSkip(skipID, func(k *models.SubscriptionSkip) { k.UndoAt = copyTime(&at) })
}

func (s *MemoryStore) MarkSkipRenewed(_ context.Context, skipID uint, at time.Time) error {
	return s.closeSkip(skipID, func(k *models.SubscriptionSkip) { k.RenewedAt = copyTime(&at) })
}

func (s *MemoryStore) GetOrder(_ context.Context, id uint) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *models.Order, subscriptionID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	order.ID = s.nextID()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.LineItems {
		order.LineItems[i].ID = s.nextID()
		order.LineItems[i].OrderID = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)
	if subscriptionID != 0 {
		s.links[subscriptionID] = append(s.links[subscriptionID], order.ID)
	}
	return nil
}

func (s *MemoryStore) UpdateOrderState(_ context.Context, orderID uint, state string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.State = state
	o.CompletedAt = copyTime(completedAt)
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, subscriptionID uint) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Order
	for _, id := range s.links[subscriptionID] {
		if o, ok := s.orders[id]; ok {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) SubscriptionIDsByOrder(_ context.Context, orderID uint) ([]uint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint
	for subID, orderIDs := range s.links {
		for _, id := range orderIDs {
			if id == orderID {
				ids = append(ids, subID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextID()
	p.CreatedAt = time.Now()
	s.payments = append(s.payments, *p)
	return nil
}

// Payments returns every recorded charge attempt.
func (s *MemoryStore) Payments() []models.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Payment(nil), s.payments...)
}
