// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ltindexer/cache"
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/pagination"
	"github.com/luxfi/ltindexer/storage"
)

// UserSummary is one row of the trader listing in base-asset display
// units.
type UserSummary struct {
	Address              string  `json:"address"`
	TradeCount           int64   `json:"tradeCount"`
	MintVolumeNominal    float64 `json:"mintVolumeNominal"`
	RedeemVolumeNominal  float64 `json:"redeemVolumeNominal"`
	TotalVolumeNominal   float64 `json:"totalVolumeNominal"`
	MintVolumeNotional   float64 `json:"mintVolumeNotional"`
	RedeemVolumeNotional float64 `json:"redeemVolumeNotional"`
	TotalVolumeNotional  float64 `json:"totalVolumeNotional"`
	LastTradeTimestamp   int64   `json:"lastTradeTimestamp"`
	RealizedProfit       float64 `json:"realizedProfit"`
	UnrealizedProfit     float64 `json:"unrealizedProfit"`
	TotalProfit          float64 `json:"totalProfit"`
}

// Users lists traders newest first within the cursor window, with each
// user's unrealized profit valued at current exchange rates.
func (s *Service) Users(ctx context.Context, w pagination.Window) (*pagination.Page[UserSummary], error) {
	page, err := s.store.ListUsers(ctx, w)
	if err != nil {
		return nil, err
	}
	rates, err := s.instrumentMap(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]UserSummary, len(page.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, u := range page.Items {
		i, u := i, u
		g.Go(func() error {
			balances, err := s.store.BalancesForUser(gctx, u.Address)
			if err != nil {
				return fmt.Errorf("balances for %s: %w", u.Address, err)
			}
			unrealized := new(big.Int)
			for _, b := range balances {
				inst, ok := rates[b.LeveragedToken]
				if !ok {
					if b.TotalBalance.Sign() > 0 {
						return unpricedHoldings(b.LeveragedToken, b)
					}
					continue
				}
				v, _ := ledger.Unrealized(b.TotalBalance, b.PurchaseCost, inst.ExchangeRate)
				unrealized.Add(unrealized, v)
			}
			items[i] = summarizeUser(u, unrealized)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pagination.Page[UserSummary]{Items: items, PageInfo: page.PageInfo, TotalCount: page.TotalCount}, nil
}

func summarizeUser(u *storage.User, unrealized *big.Int) UserSummary {
	total := fixedpoint.ConvertDecimals(unrealized, fixedpoint.WadDecimals, fixedpoint.BaseAssetDecimals)
	total.Add(total, fixedpoint.Clone(u.RealizedProfit))
	return UserSummary{
		Address:              u.Address,
		TradeCount:           u.TradeCount,
		MintVolumeNominal:    usd(u.MintVolumeNominal),
		RedeemVolumeNominal:  usd(u.RedeemVolumeNominal),
		TotalVolumeNominal:   usd(u.TotalVolumeNominal),
		MintVolumeNotional:   usd(u.MintVolumeNotional),
		RedeemVolumeNotional: usd(u.RedeemVolumeNotional),
		TotalVolumeNotional:  usd(u.TotalVolumeNotional),
		LastTradeTimestamp:   u.LastTradeTimestamp,
		RealizedProfit:       usd(u.RealizedProfit),
		UnrealizedProfit:     fixedpoint.ToFloat(unrealized, fixedpoint.WadDecimals),
		TotalProfit:          usd(total),
	}
}

// usd converts a base-asset amount for display, rounded to its precision.
func usd(v *big.Int) float64 {
	return fixedpoint.Round(fixedpoint.ToFloat(v, fixedpoint.BaseAssetDecimals), fixedpoint.BaseAssetDecimals)
}

// Referrer is one row of the referrer listing.
type Referrer struct {
	Address      string  `json:"address"`
	ReferralCode *string `json:"referralCode"`
	Referred     int64   `json:"referred"`
	Earned       string  `json:"earned"`
}

// Referrers lists addresses that registered a code or referred someone,
// most referrals first.
func (s *Service) Referrers(ctx context.Context) ([]Referrer, error) {
	return cache.GetOrLoad(ctx, s.cache, "referrers", s.config.CacheTTL, func(ctx context.Context) ([]Referrer, error) {
		users, err := s.store.ListReferrers(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]Referrer, 0, len(users))
		for _, u := range users {
			r := Referrer{
				Address:  u.Address,
				Referred: u.ReferredUserCount,
				Earned:   fixedpoint.Clone(u.ReferrerRebates).String(),
			}
			if u.ReferralCode != "" {
				code := u.ReferralCode
				r.ReferralCode = &code
			}
			out = append(out, r)
		}
		return out, nil
	})
}

// Referrals is a user's referral and rebate state in display units.
type Referrals struct {
	Address           string  `json:"address"`
	ReferralCode      *string `json:"referralCode"`
	ReferrerCode      *string `json:"referrerCode"`
	ReferrerAddress   *string `json:"referrerAddress"`
	IsJoined          bool    `json:"isJoined"`
	ReferredUserCount int64   `json:"referredUserCount"`
	ReferrerRebates   float64 `json:"referrerRebates"`
	RefereeRebates    float64 `json:"refereeRebates"`
	TotalRebates      float64 `json:"totalRebates"`
	ClaimedRebates    float64 `json:"claimedRebates"`
	ClaimableRebates  float64 `json:"claimableRebates"`
}

// UserReferrals returns the referral state of user. Unknown users get
// zeroed defaults.
func (s *Service) UserReferrals(ctx context.Context, user string) (*Referrals, error) {
	user, err := ledger.ParseAddress(user)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, user)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		u = storage.NewUser(user)
	case err != nil:
		return nil, err
	}

	claimable := fixedpoint.Clone(u.TotalRebates)
	claimable.Sub(claimable, fixedpoint.Clone(u.ClaimedRebates))
	return &Referrals{
		Address:           u.Address,
		ReferralCode:      optional(u.ReferralCode),
		ReferrerCode:      optional(u.ReferrerCode),
		ReferrerAddress:   optional(u.ReferrerAddress),
		IsJoined:          u.ReferrerAddress != "",
		ReferredUserCount: u.ReferredUserCount,
		ReferrerRebates:   usd(u.ReferrerRebates),
		RefereeRebates:    usd(u.RefereeRebates),
		TotalRebates:      usd(u.TotalRebates),
		ClaimedRebates:    usd(u.ClaimedRebates),
		ClaimableRebates:  usd(claimable),
	}, nil
}

// ReferralCodeExists reports whether code has been registered.
func (s *Service) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	return s.store.ReferralCodeExists(ctx, code)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
