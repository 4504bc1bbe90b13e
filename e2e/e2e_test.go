// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"fmt"
	"math/big"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/luxfi/ltindexer/evm/charts"
	"github.com/luxfi/ltindexer/evm/events"
	"github.com/luxfi/ltindexer/evm/portfolio"
	"github.com/luxfi/ltindexer/evm/stats"
	"github.com/luxfi/ltindexer/pagination"
)

const (
	eth3l = "0x00000000000000000000000000000000000000a1"
	alice = "0x000000000000000000000000000000000000a11c"
	bob   = "0x0000000000000000000000000000000000000b0b"
	carol = "0x00000000000000000000000000000000000ca201"

	t0 = int64(1735689600) // 2025-01-01
)

func txHash(block uint64) string {
	return fmt.Sprintf("0x%064x", block)
}

func envelope(kind events.Kind, block uint64, address string) events.Envelope {
	return events.Envelope{
		Kind:      kind,
		Block:     block,
		Timestamp: t0 + int64(block-100)*3600,
		TxHash:    txHash(block),
		LogIndex:  0,
		Address:   address,
	}
}

var _ = Describe("Leveraged token lifecycle", Ordered, func() {
	BeforeAll(func() {
		stream.Publish(envelope(events.KindLeveragedTokenCreated, 100, factoryAddress), map[string]interface{}{
			"token":          eth3l,
			"marketId":       1,
			"targetAsset":    "ETH",
			"targetLeverage": "3000000000000000000",
			"isLong":         true,
			"symbol":         "ETH3L",
			"name":           "ETH 3x Long",
		})
		stream.Publish(envelope(events.KindSetRedemptionFee, 100, factoryAddress), map[string]interface{}{
			"newFee": "1000000000000000",
		})
		stream.Publish(envelope(events.KindAddReferrer, 100, referrals), map[string]interface{}{
			"referrer":     alice,
			"referralCode": "ALICE",
		})
		stream.Publish(envelope(events.KindJoinWithReferral, 100, referrals), map[string]interface{}{
			"referee":      bob,
			"referrer":     alice,
			"referralCode": "ALICE",
		})
		stream.Publish(envelope(events.KindMint, 101, eth3l), map[string]interface{}{
			"minter":     alice,
			"to":         alice,
			"baseAmount": "100000000",
			"ltAmount":   "100000000000000000000",
		})
		stream.Publish(envelope(events.KindMint, 102, eth3l), map[string]interface{}{
			"minter":     bob,
			"to":         bob,
			"baseAmount": "50000000",
			"ltAmount":   "50000000000000000000",
		})
		stream.Publish(envelope(events.KindTokenTransfer, 103, eth3l), map[string]interface{}{
			"from":  alice,
			"to":    carol,
			"value": "20000000000000000000",
		})
		stream.Publish(envelope(events.KindRedeem, 104, eth3l), map[string]interface{}{
			"sender":     alice,
			"to":         alice,
			"ltAmount":   "40000000000000000000",
			"baseAmount": "60000000",
		})
		stream.Publish(envelope(events.KindFeeCharged, 105, eth3l), map[string]interface{}{
			"amount": "1000000",
		})
	})

	Context("Instruments", func() {
		It("lists the created token", func() {
			var list []portfolio.Summary
			Expect(api.Get("/leveraged-tokens", &list)).To(Succeed())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Symbol).To(Equal("ETH3L"))
			Expect(list[0].TargetLeverage).To(Equal(3.0))
			Expect(list[0].TotalSupply).To(Equal("110000000000000000000"))
		})

		It("refreshes the exchange rate from the helper contract", func() {
			node.SetRate(eth3l, big.NewInt(1_500_000_000_000_000_000))
			Eventually(func() string {
				var s portfolio.Summary
				if err := api.Get("/leveraged-tokens/ETH3L", &s); err != nil {
					return err.Error()
				}
				return s.ExchangeRate
			}, 5*time.Second, 20*time.Millisecond).Should(Equal("1500000000000000000"))
			Expect(node.RateCalls()).To(BeNumerically(">", 0))
		})

		It("returns 404 for an unknown symbol", func() {
			err := api.Get("/leveraged-tokens/BTC3L", nil)
			var apiErr *APIError
			Expect(err).To(BeAssignableToTypeOf(apiErr))
			Expect(err.(*APIError).Status).To(Equal(404))
		})

		It("applies global settings", func() {
			var g struct {
				RedemptionFee string `json:"redemptionFee"`
			}
			Expect(api.Get("/global-storage", &g)).To(Succeed())
			Expect(g.RedemptionFee).To(Equal("1000000000000000"))
		})
	})

	Context("Trades", func() {
		It("lists trades newest first", func() {
			var list portfolio.TradeList
			Expect(api.Get("/trades", &list)).To(Succeed())
			Expect(list.TotalCount).To(Equal(3))
			Expect(list.Items[0].IsBuy).To(BeFalse())
			Expect(list.Items[2].Recipient).To(Equal(alice))
		})

		It("records realized profit on the sell", func() {
			var list portfolio.TradeList
			Expect(api.Get("/trades?sortBy=pnlAmount", &list)).To(Succeed())
			Expect(list.Items[0].ProfitAmount).NotTo(BeNil())
			Expect(*list.Items[0].ProfitAmount).To(Equal(20.0))
			Expect(list.Items[1].ProfitAmount).To(BeNil())
		})

		It("filters by user", func() {
			var list portfolio.TradeList
			Expect(api.Get("/trades/"+bob, &list)).To(Succeed())
			Expect(list.TotalCount).To(Equal(1))
			Expect(list.Items[0].BaseAssetAmount).To(Equal("50000000"))
		})

		It("finds a trade by transaction hash", func() {
			var item portfolio.TradeItem
			Expect(api.Get("/trade/"+txHash(104), &item)).To(Succeed())
			Expect(item.Sender).To(Equal(alice))
			Expect(item.LeveragedTokenAmount).To(Equal("40000000000000000000"))
		})
	})

	Context("Users", func() {
		It("computes pnl from history", func() {
			var pnl portfolio.UserPnL
			Expect(api.Get("/pnl/"+alice, &pnl)).To(Succeed())
			Expect(pnl.Realized).To(Equal(20.0))
			Expect(pnl.LeveragedTokens).To(HaveLen(1))
		})

		It("tracks transferred holdings", func() {
			var p portfolio.Portfolio
			Expect(api.Get("/portfolio/"+carol, &p)).To(Succeed())
			Expect(p.LeveragedTokens).To(HaveLen(1))
			Expect(p.LeveragedTokens[0].UserBalance).To(Equal("20000000000000000000"))
			Expect(p.RealizedProfit).To(Equal(0.0))
		})

		It("lists traders by last trade", func() {
			var page pagination.Page[portfolio.UserSummary]
			Expect(api.Get("/users", &page)).To(Succeed())
			Expect(page.TotalCount).To(Equal(2))
			Expect(page.Items[0].Address).To(Equal(alice))
			Expect(page.Items[0].TradeCount).To(Equal(int64(2)))
			Expect(page.Items[0].RealizedProfit).To(Equal(20.0))
			Expect(page.PageInfo.HasNextPage).To(BeFalse())
		})

		It("pages traders with cursors", func() {
			var first pagination.Page[portfolio.UserSummary]
			Expect(api.Get("/users?limit=1", &first)).To(Succeed())
			Expect(first.Items).To(HaveLen(1))
			Expect(first.PageInfo.HasNextPage).To(BeTrue())
			Expect(first.PageInfo.EndCursor).NotTo(BeNil())

			var second pagination.Page[portfolio.UserSummary]
			Expect(api.Get("/users?limit=1&after="+*first.PageInfo.EndCursor, &second)).To(Succeed())
			Expect(second.Items).To(HaveLen(1))
			Expect(second.Items[0].Address).To(Equal(bob))
		})
	})

	Context("Referrals", func() {
		It("links referee and referrer", func() {
			var refs portfolio.Referrals
			Expect(api.Get("/user-referrals/"+bob, &refs)).To(Succeed())
			Expect(refs.IsJoined).To(BeTrue())
			Expect(*refs.ReferrerAddress).To(Equal(alice))
			Expect(*refs.ReferrerCode).To(Equal("ALICE"))
		})

		It("lists referrers", func() {
			var list []portfolio.Referrer
			Expect(api.Get("/referrers", &list)).To(Succeed())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Address).To(Equal(alice))
			Expect(list[0].Referred).To(Equal(int64(1)))
		})

		It("validates codes", func() {
			var ok bool
			Expect(api.Get("/is-valid-code/ALICE", &ok)).To(Succeed())
			Expect(ok).To(BeTrue())
		})
	})

	Context("Protocol", func() {
		It("aggregates statistics", func() {
			var snap stats.Snapshot
			Expect(api.Get("/stats", &snap)).To(Succeed())
			Expect(snap.TotalTrades).To(Equal(3))
			Expect(snap.MarginVolume).To(Equal(210.0))
			Expect(snap.NotionalVolume).To(Equal(630.0))
			Expect(snap.AverageLeverage).To(Equal(3.0))
			Expect(snap.UniqueUsers).To(Equal(2))
			Expect(snap.LeveragedTokens).To(Equal(1))
			Expect(snap.TreasuryFees).To(Equal(1.0))
			Expect(snap.TotalValueLocked).To(Equal(165.0))
			Expect(snap.OpenInterest).To(Equal(495.0))
		})

		It("builds cumulative charts", func() {
			var volume []charts.VolumePoint
			Expect(api.Get("/volume-chart", &volume)).To(Succeed())
			Expect(volume).To(HaveLen(1))
			Expect(volume[0].CumulativeVolume).To(Equal(630.0))

			var fees []charts.FeePoint
			Expect(api.Get("/fee-chart", &fees)).To(Succeed())
			Expect(fees).To(HaveLen(1))
			Expect(fees[0].CumulativeFees).To(Equal(1.0))
			Expect(fees[0].Timestamp).To(Equal(charts.Day(t0) * 1000))
		})

		It("counts active users", func() {
			var points []charts.ActiveUsersPoint
			Expect(api.Get("/active-users-chart", &points)).To(Succeed())
			Expect(points).NotTo(BeEmpty())
			Expect(points[0].ActiveUsers).To(Equal(0))
		})
	})
})
