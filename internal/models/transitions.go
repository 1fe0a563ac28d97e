// internal/models/transitions.go
package models

// Every status machine in the settlement core is declared here and nowhere else.
type transitionTable[S comparable] map[S][]S

func (t transitionTable[S]) allows(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (t transitionTable[S]) known(s S) bool {
	if _, ok := t[s]; ok {
		return true
	}
	for _, targets := range t {
		for _, next := range targets {
			if next == s {
				return true
			}
		}
	}
	return false
}

var orderTransitions = transitionTable[OrderStatus]{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusReturned:   {OrderStatusRefunded},
}

var paymentTransitions = transitionTable[PaymentStatus]{
	PaymentStatusPending:           {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing:        {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:         {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusRefunded},
}

var commissionTransitions = transitionTable[CommissionStatus]{
	CommissionStatusPending:  {CommissionStatusApproved, CommissionStatusCancelled},
	CommissionStatusApproved: {CommissionStatusPaid, CommissionStatusCancelled},
}

var payoutTransitions = transitionTable[PayoutStatus]{
	PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusFailed, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled},
}

func (s OrderStatus) IsValid() bool { return orderTransitions.known(s) }

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return orderTransitions.allows(s, next)
}

func (s PaymentStatus) IsValid() bool { return paymentTransitions.known(s) }

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return paymentTransitions.allows(s, next)
}

func (s CommissionStatus) IsValid() bool { return commissionTransitions.known(s) }

func (s CommissionStatus) CanTransitionTo(next CommissionStatus) bool {
	return commissionTransitions.allows(s, next)
}

func (s PayoutStatus) IsValid() bool { return payoutTransitions.known(s) }

func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	return payoutTransitions.allows(s, next)
}

// ClaimsCommissions reports whether a payout in this status holds its commissions.
func (s PayoutStatus) ClaimsCommissions() bool {
	return s == PayoutStatusPending || s == PayoutStatusProcessing || s == PayoutStatusCompleted
}
