package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/Rocket-Rescue-Node/credential-ledger/util"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// The pattern for signed request messages: operation, holder, type, unix timestamp.
	signedRequestPattern = `(?i)^Credential Ledger (issue|revoke|verify) (0x[0-9a-f]{40}) ([a-z]+) ([0-9]{10})$`
	// The default maximum age of a signed request.
	DefaultRequestMaxAge = time.Duration(15) * time.Minute
)

type AuthenticationError struct {
	msg string
}

func (a *AuthenticationError) Error() string {
	return a.msg
}

func (a *AuthenticationError) Is(err error) bool {
	_, ok := err.(*AuthenticationError)
	return ok
}

// signedRequest is a CredentialRequest whose caller has been authenticated.
type signedRequest struct {
	caller models.AccountID
	holder models.AccountID
	ct     models.CredentialType
}

// authenticator turns signed requests into authenticated callers. The ledger
// itself never looks at signatures.
// Each signed message is accepted once. Used messages are remembered until
// their timestamp falls out of the accepted window.
type authenticator struct {
	re     *regexp.Regexp
	clock  clockwork.Clock
	maxAge time.Duration
	logger *zap.Logger

	lock sync.Mutex
	seen map[string]time.Time
}

func newAuthenticator(clock clockwork.Clock, maxAge time.Duration, logger *zap.Logger) *authenticator {
	if maxAge <= 0 {
		maxAge = DefaultRequestMaxAge
	}
	return &authenticator{
		re:     regexp.MustCompile(signedRequestPattern),
		clock:  clock,
		maxAge: maxAge,
		logger: logger,
		seen:   make(map[string]time.Time),
	}
}

// markUsed records msg as used by signer. It returns false if it was already used.
func (a *authenticator) markUsed(signer models.AccountID, msg string, ts time.Time) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.clock.Now()
	for key, expires := range a.seen {
		if now.After(expires) {
			delete(a.seen, key)
		}
	}

	key := signer.Hex() + " " + msg
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = ts.Add(a.maxAge)
	return true
}

// SignedMessage builds the message a client signs for op.
func SignedMessage(op string, holder models.AccountID, ct models.CredentialType, ts time.Time) string {
	return fmt.Sprintf("Credential Ledger %s %s %s %d", op, holder.Hex(), ct.String(), ts.Unix())
}

func (a *authenticator) authenticate(op string, req *CredentialRequest) (*signedRequest, error) {
	holder, err := models.ParseAccountID(req.Holder)
	if err != nil {
		return nil, &decodingError{status: http.StatusBadRequest, msg: "invalid holder address"}
	}
	ct, err := models.ParseCredentialType(req.Type)
	if err != nil {
		return nil, &decodingError{status: http.StatusBadRequest, msg: err.Error()}
	}
	address, err := models.ParseAccountID(req.Address)
	if err != nil {
		return nil, &decodingError{status: http.StatusBadRequest, msg: "invalid caller address"}
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Sig, "0x"))
	if err != nil {
		return nil, &decodingError{status: http.StatusBadRequest, msg: "invalid signature"}
	}

	// The signed message must describe this exact request.
	matches := a.re.FindStringSubmatch(req.Msg)
	if len(matches) != 5 {
		return nil, &decodingError{status: http.StatusBadRequest, msg: "invalid message format"}
	}
	if !strings.EqualFold(matches[1], op) ||
		!strings.EqualFold(matches[2], holder.Hex()) ||
		!strings.EqualFold(matches[3], ct.String()) {
		return nil, &AuthenticationError{"signed message does not match request"}
	}

	tsSecs, err := strconv.ParseInt(matches[4], 10, 64)
	if err != nil {
		return nil, &decodingError{status: http.StatusBadRequest, msg: "invalid timestamp"}
	}
	ts := time.Unix(tsSecs, 0)
	age := a.clock.Now().Sub(ts)
	if age > a.maxAge {
		return nil, &AuthenticationError{"timestamp is too old"}
	}
	if age < -a.maxAge {
		return nil, &AuthenticationError{"timestamp is in the future"}
	}

	caller, err := util.RecoverAddressFromSignature([]byte(req.Msg), sig)
	if err != nil {
		msg := "failed to recover address from signature"
		a.logger.Warn(msg, zap.Error(err))
		return nil, &AuthenticationError{msg}
	}
	if *caller != address {
		return nil, &AuthenticationError{fmt.Sprintf("provided address (%s) did not match address (%s) which signed the message", address.Hex(), caller.Hex())}
	}

	if !a.markUsed(*caller, req.Msg, ts) {
		return nil, &AuthenticationError{"signed message has already been used"}
	}

	return &signedRequest{caller: *caller, holder: holder, ct: ct}, nil
}
