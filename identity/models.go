package identity

import "time"

// Account is the domain representation of a phone-identified account.
// It mirrors the accounts table and should not include JSON annotations so it
// can be reused by different presentation layers.
type Account struct {
	ID        string
	Phone     string
	Verified  bool
	CreatedAt time.Time
}
