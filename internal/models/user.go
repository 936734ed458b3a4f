package models

import (
	"time"

	"lingocrowd/core/internal/utils"
)

// DeletedUserID is the sentinel that foreign references of deleted accounts are reassigned to.
var DeletedUserID = utils.SixID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// User represents an account on the marketplace.
type User struct {
	Base             `bson:",inline"`
	Name             string     `bson:"name" json:"name"`
	Email            string     `bson:"email" json:"email"`
	PasswordHash     string     `bson:"password" json:"-"`
	Role             Role       `bson:"role" json:"role"`
	StripeCustomerID string     `bson:"stripe_customer_id,omitempty" json:"-"`
	StripeAccountID  string     `bson:"stripe_account_id,omitempty" json:"-"`
	ChargesEnabled   bool       `bson:"charges_enabled" json:"charges_enabled"`
	PayoutsEnabled   bool       `bson:"payouts_enabled" json:"payouts_enabled"`
	NotifyByEmail    bool       `bson:"notify_by_email" json:"notify_by_email"`
	Deleted          bool       `bson:"deleted" json:"-"`
	DeletedAt        *time.Time `bson:"deleted_at,omitempty" json:"-"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}

// HasPayoutDestination reports whether a payout transfer can be sent to the user.
func (u *User) HasPayoutDestination() bool {
	return u.StripeAccountID != ""
}
