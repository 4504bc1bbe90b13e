// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/luxfi/ltindexer/evm/charts"
	"github.com/luxfi/ltindexer/evm/portfolio"
	"github.com/luxfi/ltindexer/evm/stats"
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/logging"
	"github.com/luxfi/ltindexer/storage"
)

const (
	token  = "0x00000000000000000000000000000000000000a1"
	alice  = "0x000000000000000000000000000000000000a11c"
	txHash = "0x1111111111111111111111111111111111111111111111111111111111111111"
	day0   = int64(19700 * 86400)
)

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *string         `json:"error"`
}

func usdc(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), fixedpoint.Pow10(6)) }

func seedStore(ctx context.Context) storage.Store {
	store := storage.NewMemory()
	inst := storage.NewInstrument(token)
	inst.Symbol = "ETH3L"
	inst.TargetAsset = "ETH"
	inst.IsLong = true
	inst.MarketID = 1
	inst.TargetLeverage = new(big.Int).Mul(big.NewInt(3), fixedpoint.Wad)
	inst.ExchangeRate = new(big.Int).Set(fixedpoint.Wad)
	Expect(store.PutInstrument(ctx, inst)).To(Succeed())

	for i, v := range []int64{10, 20, 30} {
		hash := txHash
		if i > 0 {
			hash = "0x" + strings.Repeat(string(rune('2'+i)), 64)
		}
		Expect(store.InsertTrade(ctx, &storage.Trade{
			ID:                   hash + "-0",
			TxHash:               hash,
			Timestamp:            day0 + int64(i)*86400,
			LeveragedToken:       token,
			IsBuy:                true,
			Sender:               alice,
			Recipient:            alice,
			BaseAssetAmount:      usdc(v),
			LeveragedTokenAmount: new(big.Int).Mul(big.NewInt(v), fixedpoint.Wad),
		})).To(Succeed())
	}
	Expect(store.InsertFee(ctx, &storage.Fee{ID: "f1", Timestamp: day0, LeveragedToken: token, Amount: usdc(2)})).To(Succeed())
	Expect(store.UpsertUser(ctx, alice, func(u *storage.User) error {
		u.TradeCount = 3
		u.LastTradeTimestamp = day0 + 2*86400
		u.ReferralCode = "ALICE"
		return nil
	})).To(Succeed())
	return store
}

var _ = Describe("Server", func() {
	var (
		ts    *httptest.Server
		store storage.Store
		ready error
	)

	BeforeEach(func() {
		ctx := context.Background()
		store = seedStore(ctx)
		ready = nil
		pcfg := portfolio.DefaultConfig()
		pcfg.CacheTTL = 0
		svc := Services{
			Store:     store,
			Portfolio: portfolio.NewService(store, nil, pcfg, logging.Nop()),
			Charts:    charts.NewService(store, nil, &charts.Config{}),
			Stats:     stats.NewService(store, nil, stats.Config{}),
			Ready:     func(context.Context) error { return ready },
		}
		s := NewServer(DefaultConfig(), svc, logging.Nop())
		ts = httptest.NewServer(s.Handler())
	})

	AfterEach(func() {
		ts.Close()
		Expect(store.Close()).To(Succeed())
	})

	get := func(path string) (int, response) {
		resp, err := http.Get(ts.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var body response
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return resp.StatusCode, body
	}

	decode := func(raw json.RawMessage, v interface{}) {
		Expect(json.Unmarshal(raw, v)).To(Succeed())
	}

	Context("Health", func() {
		It("reports liveness", func() {
			code, body := get("/health")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body.Status).To(Equal(StatusSuccess))
			Expect(body.Error).To(BeNil())
		})

		It("reports readiness", func() {
			code, _ := get("/ready")
			Expect(code).To(Equal(http.StatusOK))

			ready = errors.New("schema not initialised")
			code, body := get("/ready")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(body.Status).To(Equal(StatusError))
		})

		It("exposes prometheus metrics", func() {
			get("/health")
			resp, err := http.Get(ts.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			raw, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring("ltindexer_http_request_duration_seconds"))
		})
	})

	Context("Protocol", func() {
		It("returns the stats snapshot", func() {
			code, body := get("/stats")
			Expect(code).To(Equal(http.StatusOK))
			var snap map[string]float64
			decode(body.Data, &snap)
			Expect(snap).To(HaveKeyWithValue("marginVolume", 60.0))
			Expect(snap).To(HaveKeyWithValue("notionalVolume", 180.0))
			Expect(snap).To(HaveKeyWithValue("averageLeverage", 3.0))
			Expect(snap).To(HaveKeyWithValue("totalTrades", 3.0))
			Expect(snap).To(HaveKeyWithValue("uniqueUsers", 1.0))
			Expect(snap).To(HaveKeyWithValue("treasuryFees", 2.0))
			Expect(snap).To(HaveLen(10))
		})

		It("returns a cumulative volume chart", func() {
			_, body := get("/volume-chart")
			var points []charts.VolumePoint
			decode(body.Data, &points)
			Expect(points).To(HaveLen(3))
			Expect(points[0].CumulativeVolume).To(Equal(30.0))
			Expect(points[2].CumulativeVolume).To(Equal(180.0))
			for i := 1; i < len(points); i++ {
				Expect(points[i].Timestamp).To(BeNumerically(">", points[i-1].Timestamp))
			}
		})

		It("returns the fee chart", func() {
			_, body := get("/fee-chart")
			var points []charts.FeePoint
			decode(body.Data, &points)
			Expect(points).To(Equal([]charts.FeePoint{{Timestamp: day0 * 1000, CumulativeFees: 2}}))
		})

		It("returns a dense active users chart", func() {
			_, body := get("/active-users-chart")
			var points []charts.ActiveUsersPoint
			decode(body.Data, &points)
			Expect(len(points)).To(BeNumerically(">=", 3))
			Expect(points[0].Timestamp).To(Equal(day0 * 1000))
		})

		It("returns default global storage", func() {
			_, body := get("/global-storage")
			var g GlobalStorage
			decode(body.Data, &g)
			Expect(g.RedemptionFee).To(Equal("0"))
			Expect(g.Owner).To(HavePrefix("0x"))
		})
	})

	Context("Leveraged tokens", func() {
		It("lists instruments", func() {
			_, body := get("/leveraged-tokens")
			var list []portfolio.Summary
			decode(body.Data, &list)
			Expect(list).To(HaveLen(1))
			Expect(list[0].Symbol).To(Equal("ETH3L"))
			Expect(list[0].TargetLeverage).To(Equal(3.0))
		})

		It("finds an instrument by symbol", func() {
			code, body := get("/leveraged-tokens/ETH3L")
			Expect(code).To(Equal(http.StatusOK))
			var sum portfolio.Summary
			decode(body.Data, &sum)
			Expect(sum.Address).To(Equal(token))
		})

		It("returns 404 for an unknown symbol", func() {
			code, body := get("/leveraged-tokens/NOPE")
			Expect(code).To(Equal(http.StatusNotFound))
			Expect(body.Status).To(Equal(StatusError))
			Expect(string(body.Data)).To(Equal("null"))
		})
	})

	Context("Trades", func() {
		It("pages trades with defaults", func() {
			code, body := get("/trades")
			Expect(code).To(Equal(http.StatusOK))
			var list portfolio.TradeList
			decode(body.Data, &list)
			Expect(list.TotalCount).To(Equal(3))
			Expect(list.Page).To(Equal(1))
			Expect(list.TotalPages).To(Equal(1))
			Expect(list.Items[0].Timestamp).To(Equal(day0 + 2*86400))
		})

		It("honours limit and sort order", func() {
			_, body := get("/trades?limit=2&page=2&sortOrder=asc")
			var list portfolio.TradeList
			decode(body.Data, &list)
			Expect(list.TotalPages).To(Equal(2))
			Expect(list.Items).To(HaveLen(1))
			Expect(list.Items[0].Timestamp).To(Equal(day0 + 2*86400))
		})

		DescribeTable("rejects invalid parameters",
			func(query, message string) {
				code, body := get("/trades?" + query)
				Expect(code).To(Equal(http.StatusBadRequest))
				Expect(body.Error).NotTo(BeNil())
				Expect(*body.Error).To(Equal(message))
			},
			Entry("page zero", "page=0", "Page must be at least 1"),
			Entry("page text", "page=abc", "Page must be a valid integer"),
			Entry("fractional limit", "limit=1.5", "Limit must be a valid integer"),
			Entry("limit too large", "limit=101", "Limit cannot exceed 100"),
			Entry("limit zero", "limit=0", "Limit must be at least 1"),
			Entry("sort field", "sortBy=size", "sortBy must be one of: date, targetAsset, activity, nomVal, pnlAmount, pnlPercent"),
			Entry("sort order", "sortOrder=up", "sortOrder must be 'asc' or 'desc'"),
		)

		It("filters by recipient", func() {
			_, body := get("/trades/" + alice)
			var list portfolio.TradeList
			decode(body.Data, &list)
			Expect(list.TotalCount).To(Equal(3))

			_, body = get("/trades/0x00000000000000000000000000000000000000ff")
			decode(body.Data, &list)
			Expect(list.TotalCount).To(Equal(0))
			Expect(list.TotalPages).To(Equal(1))
		})

		It("rejects an invalid user address", func() {
			code, _ := get("/trades/not-an-address")
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("looks up a trade by transaction hash", func() {
			_, body := get("/trade/" + txHash)
			var item portfolio.TradeItem
			decode(body.Data, &item)
			Expect(item.BaseAssetAmount).To(Equal("10000000"))
			Expect(item.ProfitAmount).To(BeNil())

			code, body := get("/trade/0x" + strings.Repeat("9", 64))
			Expect(code).To(Equal(http.StatusOK))
			Expect(string(body.Data)).To(Equal("null"))

			code, _ = get("/trade/0x1234")
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("Users", func() {
		It("lists traders with page info", func() {
			_, body := get("/users?limit=10")
			var page struct {
				Items      []portfolio.UserSummary `json:"items"`
				TotalCount int                     `json:"totalCount"`
				PageInfo   struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			}
			decode(body.Data, &page)
			Expect(page.TotalCount).To(Equal(1))
			Expect(page.Items[0].Address).To(Equal(alice))
			Expect(page.PageInfo.HasNextPage).To(BeFalse())
		})

		It("rejects a malformed cursor", func() {
			code, _ := get("/users?after=%21%21")
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("returns an empty portfolio for an unknown user", func() {
			code, body := get("/portfolio/0x00000000000000000000000000000000000000ff")
			Expect(code).To(Equal(http.StatusOK))
			var p portfolio.Portfolio
			decode(body.Data, &p)
			Expect(p.LeveragedTokens).To(BeEmpty())
			Expect(p.PnlChart).To(BeEmpty())
		})

		It("rejects an invalid portfolio address", func() {
			code, _ := get("/portfolio/0x12")
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("computes pnl", func() {
			code, body := get("/pnl/" + alice)
			Expect(code).To(Equal(http.StatusOK))
			var pnl portfolio.UserPnL
			decode(body.Data, &pnl)
			Expect(pnl.LeveragedTokens).To(HaveLen(1))
		})
	})

	Context("Referrals", func() {
		It("lists referrers", func() {
			_, body := get("/referrers")
			var refs []portfolio.Referrer
			decode(body.Data, &refs)
			Expect(refs).To(HaveLen(1))
			Expect(*refs[0].ReferralCode).To(Equal("ALICE"))
		})

		It("returns defaults for an unknown user", func() {
			_, body := get("/user-referrals/0x00000000000000000000000000000000000000ff")
			var refs portfolio.Referrals
			decode(body.Data, &refs)
			Expect(refs.IsJoined).To(BeFalse())
			Expect(refs.ReferralCode).To(BeNil())
		})

		It("checks referral codes", func() {
			_, body := get("/is-valid-code/ALICE")
			Expect(string(body.Data)).To(Equal("true"))
			_, body = get("/is-valid-code/BOB")
			Expect(string(body.Data)).To(Equal("false"))
		})
	})

	Context("CORS", func() {
		request := func(method, origin string) *http.Response {
			req, err := http.NewRequest(method, ts.URL+"/health", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", origin)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			return resp
		}

		DescribeTable("origin allowlist",
			func(origin string, allowed bool) {
				resp := request(http.MethodGet, origin)
				if allowed {
					Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal(origin))
				} else {
					Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(BeEmpty())
				}
			},
			Entry("local dev", "http://localhost:5173", true),
			Entry("production", "https://bounce.tech", true),
			Entry("preview channel", "https://bounce-preview--pr12.web.app", true),
			Entry("nested path", "https://evil.com/x.web.app", false),
			Entry("plain http preview", "http://app.web.app", false),
			Entry("unknown", "https://example.com", false),
		)

		It("answers preflight requests", func() {
			resp := request(http.MethodOptions, "https://bounce.tech")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("GET"))
		})
	})
})
