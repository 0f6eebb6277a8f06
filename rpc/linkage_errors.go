package rpc

import (
	"errors"
	"net/http"

	"carbonlink/native/common"
	"carbonlink/native/linkage"
)

const (
	codeLinkageUnauthorized       = -32030
	codeLinkageAlreadyLinked      = -32031
	codeLinkageInvalidStatus      = -32032
	codeLinkageInsufficientFunds  = -32033
	codeLinkageInvalidFlight      = -32034
	codeLinkageInvalidProject     = -32035
	codeLinkageNotFound           = -32036
	codeLinkageVerificationFailed = -32037
	codeLinkageDisputeInProgress  = -32038
	codeLinkageInvalidAmount      = -32039
	codeLinkageMaxVerifiers       = -32040
	codeLinkageAlreadyVoted       = -32041
	codeLinkageInvalidPercentage  = -32042
	codeLinkageNotOwner           = -32043
	codeLinkagePaused             = -32044
	codeLinkageInvalidMetadata    = -32045
)

type linkageErrorCode struct {
	status  int
	code    int
	message string
}

var linkageErrorCodes = map[error]linkageErrorCode{
	linkage.ErrUnauthorized:        {http.StatusForbidden, codeLinkageUnauthorized, "unauthorized"},
	linkage.ErrAlreadyLinked:       {http.StatusConflict, codeLinkageAlreadyLinked, "already_linked"},
	linkage.ErrInvalidStatus:       {http.StatusConflict, codeLinkageInvalidStatus, "invalid_status"},
	linkage.ErrInsufficientFunds:   {http.StatusConflict, codeLinkageInsufficientFunds, "insufficient_funds"},
	linkage.ErrInvalidFlight:       {http.StatusBadRequest, codeLinkageInvalidFlight, "invalid_flight"},
	linkage.ErrInvalidProject:      {http.StatusBadRequest, codeLinkageInvalidProject, "invalid_project"},
	linkage.ErrEscrowNotFound:      {http.StatusNotFound, codeLinkageNotFound, "not_found"},
	linkage.ErrVerificationFailed:  {http.StatusBadRequest, codeLinkageVerificationFailed, "verification_failed"},
	linkage.ErrDisputeInProgress:   {http.StatusConflict, codeLinkageDisputeInProgress, "dispute_in_progress"},
	linkage.ErrInvalidAmount:       {http.StatusBadRequest, codeLinkageInvalidAmount, "invalid_amount"},
	linkage.ErrMaxVerifiersReached: {http.StatusConflict, codeLinkageMaxVerifiers, "max_verifiers_reached"},
	linkage.ErrAlreadyVoted:        {http.StatusConflict, codeLinkageAlreadyVoted, "already_voted"},
	linkage.ErrInvalidPercentage:   {http.StatusBadRequest, codeLinkageInvalidPercentage, "invalid_percentage"},
	linkage.ErrNotOwner:            {http.StatusForbidden, codeLinkageNotOwner, "not_owner"},
	linkage.ErrContractPaused:      {http.StatusServiceUnavailable, codeLinkagePaused, "contract_paused"},
	linkage.ErrInvalidMetadata:     {http.StatusBadRequest, codeLinkageInvalidMetadata, "invalid_metadata"},
}

// writeLinkageError maps engine failures onto stable wire codes. Anything
// that is not a domain error is reported as an internal failure.
func writeLinkageError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	if sentinel := linkage.DomainError(err); sentinel != nil {
		mapped := linkageErrorCodes[sentinel]
		writeError(w, mapped.status, id, mapped.code, mapped.message, err.Error())
		return
	}
	switch {
	case errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaEscrowCapExceeded),
		errors.Is(err, common.ErrQuotaCounterOverflow):
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, "quota_exceeded", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}
