package rpc

import (
	"fmt"
	"net/http"

	"carbonlink/core/types"
	"carbonlink/native/linkage"
	"carbonlink/storage/journal"
)

func (s *Server) handleLinkageGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageKeyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	l, ok, err := s.engine.GetLinkage(params.key())
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	if !ok {
		writeLinkageError(w, req.ID, linkage.ErrEscrowNotFound)
		return
	}
	writeResult(w, req.ID, formatLinkage(l))
}

func (s *Server) handleLinkageGetMetadata(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageKeyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	meta, ok, err := s.engine.GetMetadata(params.key())
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	if !ok {
		writeLinkageError(w, req.ID, linkage.ErrEscrowNotFound)
		return
	}
	writeResult(w, req.ID, formatMetadata(meta))
}

func (s *Server) handleLinkageGetVote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageVoterParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	verifier, err := parseAddressField(params.Verifier, "verifier")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	vote, ok, err := s.engine.GetVote(params.key(), verifier)
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, formatVote(vote))
}

func (s *Server) handleLinkageListVotes(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageKeyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	votes, err := s.engine.ListVotes(params.key())
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	out := make([]voteJSON, 0, len(votes))
	for _, vote := range votes {
		out = append(out, formatVote(vote))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleLinkageGetDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageKeyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	dispute, ok, err := s.engine.GetDispute(params.key())
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, formatDispute(dispute))
}

func (s *Server) handleLinkageGetRevenueShare(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageParticipantParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	participant, err := parseAddressField(params.Participant, "participant")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	share, ok, err := s.engine.GetRevenueShare(params.key(), participant)
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, formatRevenueShare(share))
}

func (s *Server) handleLinkageListRevenueShares(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params linkageKeyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	shares, err := s.engine.ListRevenueShares(params.key())
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	out := make([]revenueShareJSON, 0, len(shares))
	for _, share := range shares {
		out = append(out, formatRevenueShare(share))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleLinkageTotalLinkages(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	total, err := s.engine.TotalLinkages()
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, total)
}

func (s *Server) handleLinkageEscrowTotal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	total, err := s.engine.EscrowTotal()
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountString(total))
}

func (s *Server) handleLinkageIsPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	paused, err := s.engine.IsPaused()
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paused)
}

func (s *Server) handleLinkageAuthority(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	authority, err := s.engine.Authority()
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, types.FormatAddress(authority))
}

func (s *Server) handleLinkageEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "journal not configured", nil)
		return
	}
	var params linkageEventsParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
			return
		}
	}
	flight, project := params.FlightID, params.ProjectID
	var (
		records []journal.Record
		err     error
	)
	switch {
	case flight != "" && project != "":
		records, err = s.journal.ListByLinkage(r.Context(), linkage.Key{FlightID: flight, ProjectID: project}, params.Limit)
	case flight == "" && project == "":
		records, err = s.journal.ListSince(r.Context(), params.After, params.Limit)
	default:
		invalidParams(w, req.ID, fmt.Errorf("flightId and projectId must be supplied together"))
		return
	}
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	out := make([]eventJSON, 0, len(records))
	for _, record := range records {
		evt, err := record.Event()
		if err != nil {
			writeLinkageError(w, req.ID, err)
			return
		}
		out = append(out, eventJSON{
			Seq:        record.Seq,
			ID:         record.EventID.String(),
			Type:       evt.Type,
			Height:     evt.Height,
			Attributes: evt.Attributes,
			RecordedAt: record.CreatedAt.Unix(),
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleBankBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.bank == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "bank not configured", nil)
		return
	}
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	holder, err := parseAddressField(params.Address, "address")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	balance, err := s.bank.BalanceOf(r.Context(), holder)
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	}{Address: types.FormatAddress(holder), Balance: amountString(balance)})
}
