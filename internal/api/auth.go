package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcutil/base58"

	"github.com/solshield/ledger/internal/errcode"
	"github.com/solshield/ledger/internal/model"
)

const (
	// HeaderSigner is the base58 ed25519 public key of the caller.
	HeaderSigner = "X-Shield-Signer"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing.
	HeaderTimestamp = "X-Shield-Timestamp"
	// HeaderSignature carries the base58 ed25519 signature of the request.
	HeaderSignature = "X-Shield-Signature"
	// MaxBodyForSignature is the largest body the authenticator will read.
	MaxBodyForSignature = 64 << 10

	defaultClockSkew = 5 * time.Minute
)

type callerKey struct{}

// Authenticator verifies ed25519 request signatures. The verified signer is
// the caller identity the ledger's guards check.
type Authenticator struct {
	skew  time.Duration
	nowFn func() time.Time

	// seen holds accepted signatures until their timestamp leaves the skew
	// window, so a captured request cannot be replayed.
	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewAuthenticator builds an Authenticator. Timestamps further than skew
// from nowFn are refused.
func NewAuthenticator(skew time.Duration, nowFn func() time.Time) *Authenticator {
	if skew <= 0 {
		skew = defaultClockSkew
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Authenticator{
		skew:  skew,
		nowFn: nowFn,
		seen:  make(map[string]time.Time),
	}
}

// SigningPayload is the byte string a caller signs.
func SigningPayload(method, path, timestamp string, body []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(method) + len(path) + len(timestamp) + len(body) + 3)
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.Write(body)
	return b.Bytes()
}

// SignRequest sets the signing headers on r. It reads and restores the body.
func SignRequest(r *http.Request, key ed25519.PrivateKey, now time.Time) error {
	var body []byte
	if r.Body != nil {
		var err error
		if body, err = io.ReadAll(r.Body); err != nil {
			return err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ed25519.Sign(key, SigningPayload(r.Method, r.URL.Path, ts, body))
	r.Header.Set(HeaderSigner, base58.Encode(key.Public().(ed25519.PublicKey)))
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, base58.Encode(sig))
	return nil
}

// Authenticate validates the signing headers against body and returns the
// signer.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (model.Address, error) {
	signerHeader := strings.TrimSpace(r.Header.Get(HeaderSigner))
	if signerHeader == "" {
		return model.Address{}, unauthenticated("missing %s header", HeaderSigner)
	}
	signer, err := model.ParseAddress(signerHeader)
	if err != nil {
		return model.Address{}, unauthenticated("invalid signer: %v", err)
	}

	tsHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if tsHeader == "" {
		return model.Address{}, unauthenticated("missing %s header", HeaderTimestamp)
	}
	secs, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return model.Address{}, unauthenticated("invalid timestamp: %v", err)
	}
	now := a.nowFn()
	signedAt := time.Unix(secs, 0)
	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.skew {
		return model.Address{}, unauthenticated("timestamp outside allowed skew of %s", a.skew)
	}

	sigHeader := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if sigHeader == "" {
		return model.Address{}, unauthenticated("missing %s header", HeaderSignature)
	}
	sig := base58.Decode(sigHeader)
	if len(sig) != ed25519.SignatureSize {
		return model.Address{}, unauthenticated("invalid signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(signer[:]), SigningPayload(r.Method, r.URL.Path, tsHeader, body), sig) {
		return model.Address{}, unauthenticated("invalid signature")
	}
	if a.replayed(sigHeader, signedAt, now) {
		return model.Address{}, unauthenticated("request already processed")
	}
	return signer, nil
}

func (a *Authenticator) replayed(sig string, signedAt, now time.Time) bool {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()

	cutoff := now.Add(-a.skew)
	for k, ts := range a.seen {
		if ts.Before(cutoff) {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[sig]; ok {
		return true
	}
	a.seen[sig] = signedAt
	return false
}

// Middleware authenticates the request and stores the signer in the
// request context. The body is restored for the handler.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyForSignature+1))
		if err != nil {
			writeError(w, errcode.ErrInvalidArgument.Withf("read body: %v", err))
			return
		}
		if len(body) > MaxBodyForSignature {
			writeError(w, unauthenticated("request body exceeds %d bytes", MaxBodyForSignature))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		signer, err := a.Authenticate(r, body)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), signer)))
	})
}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller model.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller stored in ctx.
func CallerFrom(ctx context.Context) (model.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(model.Address)
	return caller, ok
}

func unauthenticated(format string, args ...any) error {
	return errcode.ErrUnauthenticated.Withf(format, args...)
}
