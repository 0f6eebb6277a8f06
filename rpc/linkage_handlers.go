package rpc

import (
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strings"

	"carbonlink/core/types"
	"carbonlink/native/linkage"
	"carbonlink/observability"
)

type linkageKeyParams struct {
	FlightID  string `json:"flightId"`
	ProjectID string `json:"projectId"`
}

// key keeps identifiers byte-for-byte; the engine rejects malformed ones.
func (p linkageKeyParams) key() linkage.Key {
	return linkage.Key{FlightID: p.FlightID, ProjectID: p.ProjectID}
}

type metadataParams struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Visible     *bool    `json:"visible,omitempty"`
}

func (p *metadataParams) metadata() *linkage.Metadata {
	if p == nil {
		return nil
	}
	visible := true
	if p.Visible != nil {
		visible = *p.Visible
	}
	return &linkage.Metadata{Description: p.Description, Tags: append([]string(nil), p.Tags...), Visible: visible}
}

type linkageCreateParams struct {
	linkageKeyParams
	OffsetAmount string          `json:"offsetAmount"`
	Payment      string          `json:"payment"`
	Metadata     *metadataParams `json:"metadata,omitempty"`
}

type linkageVoteParams struct {
	linkageKeyParams
	Vote string `json:"vote"`
}

type linkageDisputeParams struct {
	linkageKeyParams
	Reason string `json:"reason"`
}

type linkageResolveParams struct {
	linkageKeyParams
	Approve bool `json:"approve"`
}

type linkageShareParams struct {
	linkageKeyParams
	Participant string `json:"participant"`
	Percentage  int64  `json:"percentage"`
}

type linkageMetadataParams struct {
	linkageKeyParams
	metadataParams
}

type linkageVoterParams struct {
	linkageKeyParams
	Verifier string `json:"verifier"`
}

type linkageParticipantParams struct {
	linkageKeyParams
	Participant string `json:"participant"`
}

type transferAuthorityParams struct {
	NewAuthority string `json:"newAuthority"`
}

type linkageEventsParams struct {
	FlightID  string `json:"flightId,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	After     int64  `json:"after,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type linkageCreateResult struct {
	CredentialID string `json:"credentialId"`
}

type linkageVoteResult struct {
	Status string `json:"status"`
}

type linkageJSON struct {
	FlightID          string `json:"flightId"`
	ProjectID         string `json:"projectId"`
	OffsetAmount      string `json:"offsetAmount"`
	CredentialID      string `json:"credentialId"`
	Status            string `json:"status"`
	EscrowAmount      string `json:"escrowAmount"`
	Creator           string `json:"creator"`
	CreatedAt         uint64 `json:"createdAt"`
	LastUpdatedAt     uint64 `json:"lastUpdatedAt"`
	VerificationCount uint32 `json:"verificationCount"`
	RejectionCount    uint32 `json:"rejectionCount"`
	Released          bool   `json:"released"`
	Refunded          bool   `json:"refunded"`
}

type metadataJSON struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Visible     bool     `json:"visible"`
}

type voteJSON struct {
	Verifier string `json:"verifier"`
	Vote     string `json:"vote"`
	CastAt   uint64 `json:"castAt"`
}

type disputeJSON struct {
	Initiator  string  `json:"initiator"`
	Reason     string  `json:"reason"`
	Active     bool    `json:"active"`
	OpenedAt   uint64  `json:"openedAt"`
	ResolvedAt uint64  `json:"resolvedAt,omitempty"`
	Outcome    string  `json:"outcome"`
	Resolver   *string `json:"resolver,omitempty"`
}

type revenueShareJSON struct {
	Participant string `json:"participant"`
	Percentage  uint32 `json:"percentage"`
	Received    string `json:"received"`
}

type eventJSON struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Height     uint64            `json:"height"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func formatLinkage(l *linkage.Linkage) linkageJSON {
	return linkageJSON{
		FlightID:          l.Key.FlightID,
		ProjectID:         l.Key.ProjectID,
		OffsetAmount:      amountString(l.OffsetAmount),
		CredentialID:      l.CredentialID,
		Status:            l.Status.String(),
		EscrowAmount:      amountString(l.EscrowAmount),
		Creator:           types.FormatAddress(l.Creator),
		CreatedAt:         l.CreatedAt,
		LastUpdatedAt:     l.LastUpdatedAt,
		VerificationCount: l.VerificationCount,
		RejectionCount:    l.RejectionCount,
		Released:          l.Released,
		Refunded:          l.Refunded,
	}
}

func formatMetadata(m *linkage.Metadata) metadataJSON {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return metadataJSON{Description: m.Description, Tags: tags, Visible: m.Visible}
}

func formatVote(v *linkage.Vote) voteJSON {
	return voteJSON{Verifier: types.FormatAddress(v.Verifier), Vote: v.Choice.String(), CastAt: v.CastAt}
}

func formatDispute(d *linkage.Dispute) disputeJSON {
	out := disputeJSON{
		Initiator:  types.FormatAddress(d.Initiator),
		Reason:     d.Reason,
		Active:     d.Active,
		OpenedAt:   d.OpenedAt,
		ResolvedAt: d.ResolvedAt,
		Outcome:    d.Outcome.String(),
	}
	if d.Resolver != ([20]byte{}) {
		resolver := types.FormatAddress(d.Resolver)
		out.Resolver = &resolver
	}
	return out
}

func formatRevenueShare(r *linkage.RevenueShare) revenueShareJSON {
	return revenueShareJSON{
		Participant: types.FormatAddress(r.Participant),
		Percentage:  r.Percentage,
		Received:    amountString(r.Received),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseBigInt rejects only malformed amounts. Zero and negative values are
// left for the engine to refuse in its own check order.
func parseBigInt(raw, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	return value, nil
}

func parseAddressField(raw, field string) ([20]byte, error) {
	addr, err := types.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func invalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
}

// escrowCharge converts payment to the unit the quota counts in. Payments
// beyond uint64 saturate so they always trip a configured cap; non-positive
// payments charge nothing.
func escrowCharge(payment *big.Int) uint64 {
	if payment.Sign() <= 0 {
		return 0
	}
	if payment.IsUint64() {
		return payment.Uint64()
	}
	return math.MaxUint64
}

func (s *Server) handleLinkageCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params linkageCreateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	offset, err := parseBigInt(params.OffsetAmount, "offsetAmount")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	payment, err := parseBigInt(params.Payment, "payment")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller := callerFrom(r.Context())
	if err := s.quota.Charge(caller, escrowCharge(payment)); err != nil {
		observability.ModuleMetrics().RecordThrottle("linkage", "quota_exceeded")
		writeLinkageError(w, req.ID, err)
		return
	}
	credential, err := s.engine.CreateLinkage(r.Context(), caller, params.key(), offset, payment, params.Metadata.metadata())
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, linkageCreateResult{CredentialID: credential})
}

func (s *Server) handleLinkageVote(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params linkageVoteParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	status, err := s.engine.CastVote(r.Context(), callerFrom(r.Context()), params.key(), params.Vote)
	if err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, linkageVoteResult{Status: status.String()})
}

func (s *Server) handleLinkageOpenDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params linkageDisputeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.engine.OpenDispute(r.Context(), callerFrom(r.Context()), params.key(), params.Reason); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleLinkageResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params linkageResolveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.engine.ResolveDispute(r.Context(), callerFrom(r.Context()), params.key(), params.Approve); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleLinkageSetRevenueShare(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params linkageShareParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	participant, err := parseAddressField(params.Participant, "participant")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.SetRevenueShare(r.Context(), callerFrom(r.Context()), params.key(), participant, params.Percentage); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleLinkageUpdateMetadata(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params linkageMetadataParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.engine.UpdateMetadata(r.Context(), callerFrom(r.Context()), params.key(), params.metadataParams.metadata()); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleLinkagePause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.engine.Pause(r.Context(), callerFrom(r.Context())); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleLinkageUnpause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.engine.Unpause(r.Context(), callerFrom(r.Context())); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleLinkageTransferAuthority(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params transferAuthorityParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	next, err := parseAddressField(params.NewAuthority, "newAuthority")
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.TransferAuthority(r.Context(), callerFrom(r.Context()), next); err != nil {
		writeLinkageError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}
