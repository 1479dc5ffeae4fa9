package domain

// Status is the lifecycle position of an order. Statuses only move forward:
// an agent may advance an order to exactly current+1, or mark it Failed.
type Status int

const (
	// StatusFailed marks abnormal termination. It sits outside the linear
	// sequence and is reachable from any non-terminal status.
	StatusFailed Status = -1
	// StatusAvailable means the order is unclaimed.
	StatusAvailable Status = 0
	// StatusAccepted means the order is claimed but not yet picked up.
	StatusAccepted Status = 1
	// StatusPickedUp means the agent has the goods.
	StatusPickedUp Status = 2
	// StatusPacking is the post-pickup preparatory stage.
	StatusPacking Status = 3
	// StatusInTransit means the order is on its way to the customer.
	StatusInTransit Status = 4
	// StatusDelivered is the terminal success state.
	StatusDelivered Status = 5
)

// String returns a human-readable label for logs and messages.
func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "FAILED"
	case StatusAvailable:
		return "AVAILABLE"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusPickedUp:
		return "PICKED_UP"
	case StatusPacking:
		return "PACKING"
	case StatusInTransit:
		return "IN_TRANSIT"
	case StatusDelivered:
		return "DELIVERED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanAdvanceTo reports whether next is a legal transition from s.
// Legal moves are the single step forward in the linear sequence, or
// StatusFailed from any non-terminal status.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next == s+1 && next <= StatusDelivered
}

// Order represents one delivery job as seen by the current agent.
type Order struct {
	// ID is the opaque unique identifier, immutable after creation.
	ID string `json:"_id"`
	// PickupAddress is where the goods are collected.
	PickupAddress string `json:"pickupAddress"`
	// DeliveryAddress is where the goods go.
	DeliveryAddress string `json:"deliveryAddress"`
	// Distance is a display string; it takes no part in any computation.
	Distance string `json:"distance"`
	// Price is the non-negative payout for the job.
	Price float64 `json:"price"`
	// Status is the lifecycle position.
	Status Status `json:"status"`
	// CustomerName is present once the order has been accepted.
	CustomerName string `json:"customerName,omitempty"`
}

// Merge overlays the server-confirmed record onto the cached one, keeping
// locally known fields the backend omitted. The ID never changes.
func (o Order) Merge(confirmed Order) Order {
	merged := o
	merged.Status = confirmed.Status
	if confirmed.PickupAddress != "" {
		merged.PickupAddress = confirmed.PickupAddress
	}
	if confirmed.DeliveryAddress != "" {
		merged.DeliveryAddress = confirmed.DeliveryAddress
	}
	if confirmed.Distance != "" {
		merged.Distance = confirmed.Distance
	}
	if confirmed.Price > 0 {
		merged.Price = confirmed.Price
	}
	if confirmed.CustomerName != "" {
		merged.CustomerName = confirmed.CustomerName
	}
	return merged
}
