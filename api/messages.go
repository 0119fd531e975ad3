package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/Rocket-Rescue-Node/credential-ledger/services"
)

type response struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type decodingError struct {
	status int
	msg    string
}

func (br *decodingError) Error() string {
	return br.msg
}

// CredentialRequest is the body of issue, revoke and verify requests.
// Msg must be "Credential Ledger <op> <holder> <type> <unix timestamp>",
// signed by Address with eth_sign.
type CredentialRequest struct {
	Address string `json:"address"`
	Holder  string `json:"holder"`
	Type    string `json:"type"`
	Msg     string `json:"msg"`
	Sig     string `json:"sig"`
	Version string `json:"version"`
}

type CredentialResponse struct {
	Holder   string `json:"holder"`
	Type     string `json:"type"`
	Issuer   string `json:"issuer"`
	IssuedAt int64  `json:"issuedAt"`
	Valid    bool   `json:"valid"`
}

type EventResponse struct {
	Kind      string `json:"kind"`
	Type      string `json:"type"`
	Actor     string `json:"actor"`
	Timestamp int64  `json:"timestamp"`
}

type IssuerResponse struct {
	Address    string `json:"address"`
	Authorized bool   `json:"authorized"`
	Origin     string `json:"origin,omitempty"`
}

type HolderResponse struct {
	Holder      string               `json:"holder"`
	Issuer      IssuerResponse       `json:"issuer"`
	Credentials []CredentialResponse `json:"credentials"`
	Events      []EventResponse      `json:"events"`
}

func newCredentialResponse(cred *models.Credential) CredentialResponse {
	return CredentialResponse{
		Holder:   cred.Holder.Hex(),
		Type:     cred.Type.String(),
		Issuer:   cred.Issuer.Hex(),
		IssuedAt: cred.IssuedAt.Unix(),
		Valid:    cred.Valid,
	}
}

func newIssuerResponse(account models.AccountID, issuer *models.Issuer) IssuerResponse {
	resp := IssuerResponse{Address: account.Hex()}
	if issuer != nil {
		resp.Authorized = true
		resp.Origin = issuer.Origin.String()
	}
	return resp
}

func newHolderResponse(info *models.HolderInfo) HolderResponse {
	resp := HolderResponse{
		Holder:      info.Holder.Hex(),
		Issuer:      newIssuerResponse(info.Holder, info.Issuer),
		Credentials: make([]CredentialResponse, 0, len(info.Credentials)),
		Events:      make([]EventResponse, 0, len(info.Events)),
	}
	for i := range info.Credentials {
		resp.Credentials = append(resp.Credentials, newCredentialResponse(&info.Credentials[i]))
	}
	for _, ev := range info.Events {
		resp.Events = append(resp.Events, EventResponse{
			Kind:      ev.Kind.String(),
			Type:      ev.Type.String(),
			Actor:     ev.Actor.Hex(),
			Timestamp: ev.Timestamp.Unix(),
		})
	}
	return resp
}

func readJSONRequest(w http.ResponseWriter, r *http.Request, req interface{}) error {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		const msg = "Content-Type is not application/json"
		return &decodingError{status: http.StatusUnsupportedMediaType, msg: msg}
	}

	// Limit the size of the request body to 2 KB
	r.Body = http.MaxBytesReader(w, r.Body, 2048)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err = dec.Decode(req)
	if err != nil || dec.Decode(&struct{}{}) != io.EOF {
		const msg = "invalid or multiple JSON objects in request body"
		return &decodingError{status: http.StatusBadRequest, msg: msg}
	}

	return nil
}

func writeJSONResponse(w http.ResponseWriter, code int, data interface{}, err string) error {
	resp, merr := json.Marshal(response{Data: data, Error: err})
	if merr != nil {
		return merr
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, e := w.Write(resp)
	return e
}

func writeJSONError(w http.ResponseWriter, err error) error {
	var de *decodingError
	switch {
	case errors.As(err, &de):
		return writeJSONResponse(w, de.status, nil, de.msg)
	case errors.Is(err, &AuthenticationError{}):
		return writeJSONResponse(w, http.StatusUnauthorized, nil, err.Error())
	case errors.Is(err, &services.ValidationError{}):
		return writeJSONResponse(w, http.StatusBadRequest, nil, err.Error())
	case errors.Is(err, &services.UnauthorizedError{}):
		return writeJSONResponse(w, http.StatusForbidden, nil, err.Error())
	case errors.Is(err, &services.NotFoundError{}):
		return writeJSONResponse(w, http.StatusNotFound, nil, err.Error())
	case errors.Is(err, &services.InvalidCredentialError{}):
		return writeJSONResponse(w, http.StatusConflict, nil, err.Error())
	default:
		return writeJSONResponse(w, http.StatusInternalServerError, nil, "internal server error")
	}
}
