package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxSeriesVideos  = 100
	maxTitleLength   = 200
	maxContentLength = 5000

	// maxMoney is the largest amount in cents the payment provider accepts in one
	// charge. Goals, budgets and pledges are capped at it so products never overflow.
	maxMoney int64 = 99_999_999
)

// ProjectTerms is a priced proposal: the payload of an offer and the input of a
// direct project. Money is in cents.
type ProjectTerms struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Price         int64  `json:"price"`
	IsSeries      bool   `json:"is_series"`
	PricePerVideo int64  `json:"price_per_video"`
	NumVideos     int    `json:"num_videos"`
}

// FundingGoal validates the terms and returns the total price. A series costs
// price_per_video × num_videos; a flat proposal must not carry series fields.
func (t ProjectTerms) FundingGoal() (int64, error) {
	if strings.TrimSpace(t.Title) == "" {
		return 0, newValidationError("title", "is required")
	}
	if len(t.Title) > maxTitleLength {
		return 0, newValidationError("title", "is too long")
	}
	if !t.IsSeries {
		if t.PricePerVideo != 0 || t.NumVideos != 0 {
			return 0, newValidationError("is_series", "price_per_video and num_videos are only allowed on a series")
		}
		if t.Price <= 0 {
			return 0, newValidationError("price", "must be positive")
		}
		if t.Price > maxMoney {
			return 0, newValidationError("price", fmt.Sprintf("must not exceed %d", maxMoney))
		}
		return t.Price, nil
	}
	if t.PricePerVideo <= 0 {
		return 0, newValidationError("price_per_video", "is required for a series and must be positive")
	}
	if t.NumVideos <= 0 {
		return 0, newValidationError("num_videos", "is required for a series and must be positive")
	}
	if t.NumVideos > maxSeriesVideos {
		return 0, newValidationError("num_videos", "is too large")
	}
	if t.PricePerVideo > maxMoney/int64(t.NumVideos) {
		return 0, newValidationError("price_per_video", fmt.Sprintf("times num_videos must not exceed %d", maxMoney))
	}
	goal := t.PricePerVideo * int64(t.NumVideos)
	if t.Price != 0 && t.Price != goal {
		return 0, newValidationError("price", "does not match price_per_video × num_videos")
	}
	return goal, nil
}

// checkPledgeAmount bounds a pledge by the provider maximum and, when positive, by the
// configured per-pledge limit.
func checkPledgeAmount(amount, limit int64) error {
	switch {
	case amount <= 0:
		return newValidationError("amount", "must be positive")
	case amount > maxMoney:
		return newValidationError("amount", fmt.Sprintf("must not exceed %d", maxMoney))
	case limit > 0 && amount > limit:
		return newValidationError("amount", fmt.Sprintf("must not exceed %d", limit))
	}
	return nil
}

// PlatformFee is floor(funding × feePercent) in cents.
func PlatformFee(funding int64, feePercent decimal.Decimal) int64 {
	return decimal.NewFromInt(funding).Mul(feePercent).Floor().IntPart()
}

// PayoutSplit returns the teacher's payout and the platform's fee for funding.
func PayoutSplit(funding int64, feePercent decimal.Decimal) (payout, fee int64) {
	fee = PlatformFee(funding, feePercent)
	return funding - fee, fee
}
