package api

import (
	"net/http"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/Rocket-Rescue-Node/credential-ledger/services"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type apiRouter struct {
	svc    *services.Service
	auth   *authenticator
	clock  clockwork.Clock
	logger *zap.Logger
}

// RouterConfig contains the configuration for the API router.
type RouterConfig struct {
	Path           string
	Service        *services.Service
	Clock          clockwork.Clock
	RequestMaxAge  time.Duration
	AllowedOrigins []string
	Logger         *zap.Logger
}

// readSignedRequest decodes and authenticates a credential request for op.
func (ar *apiRouter) readSignedRequest(w http.ResponseWriter, r *http.Request, op string) (*signedRequest, error) {
	var req CredentialRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return nil, err
	}

	ar.logger.Info("Got credential request",
		zap.String("op", op),
		zap.String("address", req.Address),
		zap.String("holder", req.Holder),
		zap.String("type", req.Type),
		zap.String("msg", req.Msg),
		zap.String("version", req.Version),
	)

	return ar.auth.authenticate(op, &req)
}

func (ar *apiRouter) IssueCredential(w http.ResponseWriter, r *http.Request) error {
	sr, err := ar.readSignedRequest(w, r, "issue")
	if err != nil {
		return writeJSONError(w, err)
	}

	var cred *models.Credential
	err = ar.withRetry("issue", func() error {
		cred, err = ar.svc.IssueCredential(r.Context(), sr.caller, sr.holder, sr.ct)
		return err
	})
	if err != nil {
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusCreated, newCredentialResponse(cred), "")
}

func (ar *apiRouter) RevokeCredential(w http.ResponseWriter, r *http.Request) error {
	sr, err := ar.readSignedRequest(w, r, "revoke")
	if err != nil {
		return writeJSONError(w, err)
	}

	var cred *models.Credential
	err = ar.withRetry("revoke", func() error {
		cred, err = ar.svc.RevokeCredential(r.Context(), sr.caller, sr.holder, sr.ct)
		return err
	})
	if err != nil {
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusOK, newCredentialResponse(cred), "")
}

func (ar *apiRouter) VerifyCredential(w http.ResponseWriter, r *http.Request) error {
	sr, err := ar.readSignedRequest(w, r, "verify")
	if err != nil {
		return writeJSONError(w, err)
	}

	var cred *models.Credential
	err = ar.withRetry("verify", func() error {
		cred, err = ar.svc.VerifyCredential(r.Context(), sr.caller, sr.holder, sr.ct)
		return err
	})
	if err != nil {
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusOK, newCredentialResponse(cred), "")
}

func (ar *apiRouter) GetHolder(w http.ResponseWriter, r *http.Request) error {
	holder, err := models.ParseAccountID(mux.Vars(r)["address"])
	if err != nil {
		return writeJSONError(w, &decodingError{status: http.StatusBadRequest, msg: "invalid holder address"})
	}

	info, err := ar.svc.GetHolderInfo(r.Context(), holder)
	if err != nil {
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusOK, newHolderResponse(info), "")
}

func (ar *apiRouter) GetIssuer(w http.ResponseWriter, r *http.Request) error {
	account, err := models.ParseAccountID(mux.Vars(r)["address"])
	if err != nil {
		return writeJSONError(w, &decodingError{status: http.StatusBadRequest, msg: "invalid issuer address"})
	}

	issuer, err := ar.svc.GetIssuer(r.Context(), account)
	if err != nil {
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusOK, newIssuerResponse(account, issuer), "")
}

func (ar *apiRouter) ListIssuers(w http.ResponseWriter, r *http.Request) error {
	issuers, err := ar.svc.ListIssuers(r.Context())
	if err != nil {
		return writeJSONError(w, err)
	}

	resp := make([]IssuerResponse, 0, len(issuers))
	for i := range issuers {
		resp = append(resp, newIssuerResponse(issuers[i].Account, &issuers[i]))
	}
	return writeJSONResponse(w, http.StatusOK, resp, "")
}

// Wrapper to log unhandled errors.
// Note that this wrapper is only for last resort errors. For example, caused by
// error handling functions not being able to write a response to the client.
func (ar *apiRouter) wrapHandler(h func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			ar.logger.Error("Error handling request", zap.Error(err))
		}
	}
}

func NewAPIRouter(cfg *RouterConfig) *mux.Router {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ah := &apiRouter{
		svc:    cfg.Service,
		auth:   newAuthenticator(clock, cfg.RequestMaxAge, cfg.Logger),
		clock:  clock,
		logger: cfg.Logger,
	}
	r := mux.NewRouter()
	sr := r.PathPrefix(cfg.Path).Subrouter()

	// Register handlers.
	postMethods := []string{"POST", "OPTIONS"}
	getMethods := []string{"GET", "OPTIONS"}
	for _, route := range []struct {
		path    string
		handler func(w http.ResponseWriter, r *http.Request) error
		methods []string
	}{
		{"/credentials", ah.IssueCredential, postMethods},
		{"/credentials/revoke", ah.RevokeCredential, postMethods},
		{"/credentials/verify", ah.VerifyCredential, postMethods},
		{"/holders/{address}", ah.GetHolder, getMethods},
		{"/issuers", ah.ListIssuers, getMethods},
		{"/issuers/{address}", ah.GetIssuer, getMethods},
	} {
		sr.HandleFunc(route.path, ah.wrapHandler(route.handler)).Methods(route.methods...)
		sr.HandleFunc(route.path+"/", ah.wrapHandler(route.handler)).Methods(route.methods...)
	}

	// CORS support.
	ch := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		ExposedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		Debug:            cfg.Logger.Level() == zap.DebugLevel,
	})
	sr.Use(ch.Handler)

	return r
}
