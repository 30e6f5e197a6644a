// Package api exposes the vesting engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/feed"
	"solana-token-vesting/internal/observability"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/token"
	"solana-token-vesting/internal/vesting"
)

const maxBodyBytes = 1 << 16

// Engine is the subset of *vesting.Engine served over HTTP.
type Engine interface {
	Lock(ctx context.Context, req vesting.LockRequest) (*domain.VestingRecord, error)
	Unlock(ctx context.Context, req vesting.UnlockRequest) (*vesting.UnlockResult, error)
	GetRecord(ctx context.Context, receiver, mint solana.PublicKey) (*domain.VestingRecord, error)
	ListByReceiver(ctx context.Context, receiver solana.PublicKey) ([]*domain.VestingRecord, error)
	ListByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.VestingRecord, error)
	Preview(ctx context.Context, receiver, mint solana.PublicKey) (*vesting.Preview, error)
	Custody(mint, receiver solana.PublicKey) (custody.Authority, error)
	CustodyScope() custody.Scope
	Events(ctx context.Context, receiver, mint string) ([]*domain.VestingEvent, error)
	Account(ctx context.Context, address string) (*domain.TokenAccount, error)
	Mint(ctx context.Context, mint solana.PublicKey) (*domain.Mint, error)
	CreateMint(ctx context.Context, mint solana.PublicKey, decimals uint8, authority solana.PublicKey) (*domain.Mint, error)
	MintTo(ctx context.Context, signer, mint, owner solana.PublicKey, amount uint64) (*domain.TokenAccount, error)
}

var _ Engine = (*vesting.Engine)(nil)

// Options contains configuration for creating a Server.
type Options struct {
	Engine Engine         // required
	Auth   *Authenticator // required
	Feed   http.Handler   // optional websocket hub mounted at /ws/events

	// DevMode mounts /v1/dev routes for mint management.
	DevMode bool

	Logger  *log.Logger
	Metrics *observability.Metrics
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine  Engine
	auth    *Authenticator
	feed    http.Handler
	devMode bool
	logger  *log.Logger
	metrics *observability.Metrics
}

// NewServer creates a new API server.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("api: authenticator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine:  opts.Engine,
		auth:    opts.Auth,
		feed:    opts.Feed,
		devMode: opts.DevMode,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Router returns the API routes. Callers may mount further handlers on it.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Instrument(s.logger, s.metrics))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/records/{receiver}/{mint}", s.handleGetRecord)
		r.Get("/records/{receiver}/{mint}/preview", s.handlePreview)
		r.Get("/receivers/{receiver}/records", s.handleListByReceiver)
		r.Get("/mints/{mint}", s.handleGetMint)
		r.Get("/mints/{mint}/records", s.handleListByMint)
		r.Get("/custody/{mint}", s.handleCustody)
		r.Get("/events/{receiver}/{mint}", s.handleEvents)
		r.Get("/accounts/{address}", s.handleGetAccount)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/lock", s.handleLock)
			r.Post("/unlock", s.handleUnlock)

			if s.devMode {
				r.Post("/dev/mints", s.handleCreateMint)
				r.Post("/dev/mint-to", s.handleMintTo)
			}
		})
	})

	if s.feed != nil {
		r.Handle("/ws/events", s.feed)
	}
	return r
}

func parseKey(name, value string) (solana.PublicKey, error) {
	pk, err := solana.ParsePublicKey(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s %q", vesting.ErrInvalidAddress, name, value)
	}
	return pk, nil
}

func (s *Server) pathKeys(r *http.Request, names ...string) ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, len(names))
	for i, name := range names {
		pk, err := parseKey(name, chi.URLParam(r, name))
		if err != nil {
			return nil, err
		}
		keys[i] = pk
	}
	return keys, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSONError(w, r, http.StatusBadRequest, err.Error(), vesting.ClassValidation.String())
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	wallet, _ := WalletFromContext(r.Context())

	var req LockRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	receiver, err := parseKey("receiver", req.Receiver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.engine.Lock(r.Context(), vesting.LockRequest{
		Depositor: wallet,
		Receiver:  receiver,
		Mint:      mint,
		Amount:    req.Amount,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Shape:     domain.ScheduleShape(req.Shape),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordFromDomain(rec))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	wallet, _ := WalletFromContext(r.Context())

	var req UnlockRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	receiver, err := parseKey("receiver", req.Receiver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Unlock(r.Context(), vesting.UnlockRequest{
		Caller:   wallet,
		Receiver: receiver,
		Mint:     mint,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unlockFromVesting(res))
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "receiver", "mint")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.engine.GetRecord(r.Context(), keys[0], keys[1])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordFromDomain(rec))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "receiver", "mint")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.Preview(r.Context(), keys[0], keys[1])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewFromVesting(p))
}

func (s *Server) handleListByReceiver(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "receiver")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, err := s.engine.ListByReceiver(r.Context(), keys[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsFromDomain(recs))
}

func (s *Server) handleListByMint(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "mint")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, err := s.engine.ListByMint(r.Context(), keys[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordsFromDomain(recs))
}

func (s *Server) handleGetMint(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "mint")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.engine.Mint(r.Context(), keys[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mintFromDomain(m))
}

// handleCustody derives the custody authority. Receiver comes from the
// query string and is only consulted under per-receiver scope.
func (s *Server) handleCustody(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "mint")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	scope := s.engine.CustodyScope()
	var receiver solana.PublicKey
	if scope == custody.ScopeReceiver {
		receiver, err = parseKey("receiver", r.URL.Query().Get("receiver"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	auth, err := s.engine.Custody(keys[0], receiver)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, custodyFromAuthority(auth, scope))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "receiver", "mint")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.engine.Events(r.Context(), keys[0].String(), keys[1].String())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]feed.Event, 0, len(events))
	for _, e := range events {
		out = append(out, feed.FromDomain(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	keys, err := s.pathKeys(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.Account(r.Context(), keys[0].String())
	if err != nil {
		if errors.Is(err, token.ErrAccountNotFound) {
			writeJSONError(w, r, http.StatusNotFound, err.Error(), vesting.Classify(err).String())
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountFromDomain(acc))
}

func (s *Server) handleCreateMint(w http.ResponseWriter, r *http.Request) {
	wallet, _ := WalletFromContext(r.Context())

	var req CreateMintRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	m, err := s.engine.CreateMint(r.Context(), mint, req.Decimals, wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mintFromDomain(m))
}

func (s *Server) handleMintTo(w http.ResponseWriter, r *http.Request) {
	wallet, _ := WalletFromContext(r.Context())

	var req MintToRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	mint, err := parseKey("mint", req.Mint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseKey("owner", req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	acc, err := s.engine.MintTo(r.Context(), wallet, mint, owner, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountFromDomain(acc))
}
