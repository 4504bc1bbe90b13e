// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/luxfi/ltindexer/evm/portfolio"
	"github.com/luxfi/ltindexer/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.svc.Ready
	if ready == nil {
		ready = s.svc.Store.Ping
	}
	if err := ready(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeData(w, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Stats.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch protocol statistics")
		return
	}
	s.writeData(w, snap)
}

func (s *Server) handleFeeChart(w http.ResponseWriter, r *http.Request) {
	chart, err := s.svc.Charts.FeeChart(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch fee chart data")
		return
	}
	s.writeData(w, chart)
}

func (s *Server) handleVolumeChart(w http.ResponseWriter, r *http.Request) {
	chart, err := s.svc.Charts.VolumeChart(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch volume chart data")
		return
	}
	s.writeData(w, chart)
}

func (s *Server) handleActiveUsersChart(w http.ResponseWriter, r *http.Request) {
	chart, err := s.svc.Charts.ActiveUsersChart(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch active users chart data")
		return
	}
	s.writeData(w, chart)
}

func (s *Server) handleGlobalStorage(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.Store.GetGlobalStorage(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		g, err = storage.NewGlobalStorage(), nil
	}
	if err != nil {
		s.fail(w, r, err, "Failed to fetch global storage")
		return
	}
	s.writeData(w, newGlobalStorage(g))
}

func (s *Server) handleLeveragedTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Store.ListInstruments(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch all leveraged tokens")
		return
	}
	s.writeData(w, portfolio.Summaries(list))
}

func (s *Server) handleLeveragedToken(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	inst, err := s.svc.Store.GetInstrumentBySymbol(r.Context(), symbol)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Leveraged token not found")
		return
	}
	if err != nil {
		s.fail(w, r, err, "Failed to fetch leveraged token")
		return
	}
	s.writeData(w, portfolio.Summarize(inst))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	q, err := tradeQuery(r.URL.Query(), s.config.MaxQuerySize)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch trades")
		return
	}
	s.writeTrades(w, r, q)
}

func (s *Server) handleUserTrades(w http.ResponseWriter, r *http.Request) {
	q, err := tradeQuery(r.URL.Query(), s.config.MaxQuerySize)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch trades")
		return
	}
	q.User = mux.Vars(r)["user"]
	s.writeTrades(w, r, q)
}

func (s *Server) writeTrades(w http.ResponseWriter, r *http.Request, q storage.TradeQuery) {
	list, err := s.svc.Portfolio.Trades(r.Context(), q)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch trades")
		return
	}
	s.writeData(w, list)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.svc.Portfolio.TradeByTxHash(r.Context(), mux.Vars(r)["txHash"])
	if err != nil {
		s.fail(w, r, err, "Failed to fetch trade")
		return
	}
	s.writeData(w, trade)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	window, err := userWindow(r.URL.Query(), s.config.MaxQuerySize)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch all users")
		return
	}
	page, err := s.svc.Portfolio.Users(r.Context(), window)
	if err != nil {
		s.fail(w, r, err, "Failed to fetch all users")
		return
	}
	s.writeData(w, page)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := s.svc.Portfolio.PnL(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		s.fail(w, r, err, "Failed to fetch pnl")
		return
	}
	s.writeData(w, pnl)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Portfolio.Portfolio(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		s.fail(w, r, err, "Failed to fetch portfolio")
		return
	}
	s.writeData(w, p)
}

func (s *Server) handleReferrers(w http.ResponseWriter, r *http.Request) {
	refs, err := s.svc.Portfolio.Referrers(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to fetch referrers")
		return
	}
	s.writeData(w, refs)
}

func (s *Server) handleUserReferrals(w http.ResponseWriter, r *http.Request) {
	refs, err := s.svc.Portfolio.UserReferrals(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		s.fail(w, r, err, "Failed to fetch user referrals")
		return
	}
	s.writeData(w, refs)
}

func (s *Server) handleIsValidCode(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.Portfolio.ReferralCodeExists(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "Failed to check referral code")
		return
	}
	s.writeData(w, ok)
}
