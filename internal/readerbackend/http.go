package readerbackend

import (
	"errors"
	"net/http"

	"github.com/dzuluaga/MpzIdentityReader/internal/protocol"
	"github.com/dzuluaga/MpzIdentityReader/internal/transport"
)

// Handlers returned here are wired onto the four routes of spec.md §6's
// routing table by cmd/readerbackend/main.go, the same way the teacher
// wires Server methods onto its *mux.Router in cmd/server/server.go.

func (b *Backend) HandleGetNonce(w http.ResponseWriter, r *http.Request) {
	resp, err := b.GetNonce()
	if err != nil {
		transport.WriteJSONError(w, err, http.StatusInternalServerError)
		return
	}
	transport.WriteJSON(w, resp, http.StatusOK)
}

func (b *Backend) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := transport.ParseJSON(r, &req); err != nil {
		transport.WriteJSONError(w, err, http.StatusBadRequest)
		return
	}
	resp, err := b.Register(req)
	if err != nil {
		transport.WriteJSONError(w, err, statusFor(err))
		return
	}
	transport.WriteJSON(w, resp, http.StatusOK)
}

func (b *Backend) HandleCertifyKeys(w http.ResponseWriter, r *http.Request) {
	var req protocol.CertifyKeysRequest
	if err := transport.ParseJSON(r, &req); err != nil {
		transport.WriteJSONError(w, err, http.StatusBadRequest)
		return
	}
	resp, err := b.CertifyKeys(req)
	if err != nil {
		transport.WriteJSONError(w, err, statusFor(err))
		return
	}
	transport.WriteJSON(w, resp, http.StatusOK)
}

func (b *Backend) HandleGetIssuerList(w http.ResponseWriter, r *http.Request) {
	var req protocol.GetIssuerListRequest
	if err := transport.ParseJSON(r, &req); err != nil {
		transport.WriteJSONError(w, err, http.StatusBadRequest)
		return
	}
	resp, err := b.GetIssuerList(req)
	if err != nil {
		transport.WriteJSONError(w, err, http.StatusInternalServerError)
		return
	}
	transport.WriteJSON(w, resp, http.StatusOK)
}

// statusFor maps a handler error to an HTTP status. Only registration-
// unknown has protocol-defined (404) semantics, per spec.md §4.1/§7; every
// other validation failure is a plain 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRegistrationUnknown):
		return http.StatusNotFound
	case errors.Is(err, ErrNonceUnknown), errors.Is(err, ErrAttestationInvalid), errors.Is(err, ErrAssertionMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
