package supplier

import "time"

// Profile captures the subset of supplier data exposed via the public API layer.
type Profile struct {
	ID        string
	Name      string
	Phone     string
	City      string
	Verified  bool
	CreatedAt time.Time
}
