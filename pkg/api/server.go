// Package api serves a ledger as a notary over HTTP and pushes nym and
// market events to websocket subscribers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/ledger"
	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/offer"
)

const maxBody = 4 << 20

// Server handles REST and websocket connections for one notary.
type Server struct {
	ledger *ledger.Ledger
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
	origin []string
}

func NewServer(l *ledger.Ledger, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		ledger: l,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
		origin: allowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix(notary.APIPrefix).Subrouter()

	// queries
	api.HandleFunc("/nyms/{nym}", s.handleGetNym).Methods(http.MethodGet)
	api.HandleFunc("/nyms/{nym}/accounts", s.handleGetAccounts).Methods(http.MethodGet)
	api.HandleFunc("/nyms/{nym}/offers", s.handleGetOffers).Methods(http.MethodGet)
	api.HandleFunc("/markets", s.handleGetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/book", s.handleGetOrderbook).Methods(http.MethodGet)

	// signed messages
	api.HandleFunc("/nyms/register", s.signed(false, s.registerNym)).Methods(http.MethodPost)
	api.HandleFunc("/accounts/register", s.signed(false, s.registerAccount)).Methods(http.MethodPost)
	api.HandleFunc("/numbers/reserve", s.signed(false, s.reserveNumbers)).Methods(http.MethodPost)
	api.HandleFunc("/numbers/harvest", s.signed(false, s.harvestNumbers)).Methods(http.MethodPost)
	api.HandleFunc("/payments/send", s.signed(false, s.sendPayment)).Methods(http.MethodPost)
	api.HandleFunc("/payments/fetch", s.signed(false, s.fetchPayments)).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{account}/inbox/process", s.signed(false, s.processInbox)).Methods(http.MethodPost)

	// signed transactions
	api.HandleFunc("/offers/place", s.signed(true, s.placeOffer)).Methods(http.MethodPost)
	api.HandleFunc("/offers/cancel", s.signed(true, s.cancelOffer)).Methods(http.MethodPost)
	api.HandleFunc("/contracts/activate", s.signed(true, s.activate)).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origin,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", notary.SignatureHeader},
	})
	return c.Handler(s.router)
}

// Hub is exposed so the node can push events from background jobs.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the websocket hub and serves until the listener fails.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Infow("api_listening", "addr", addr, "server", s.ledger.ServerID())
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// Queries
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok", "server_id": s.ledger.ServerID()})
}

func (s *Server) handleGetNym(w http.ResponseWriter, r *http.Request) {
	nym := mux.Vars(r)["nym"]
	if !crypto.IsNymID(nym) {
		fail(w, http.StatusBadRequest, "invalid nym id")
		return
	}
	ok, err := s.ledger.IsRegistered(nym)
	if err != nil {
		s.internal(w, "get_nym", err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"registered": ok})
}

func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.ledger.Accounts(mux.Vars(r)["nym"])
	if err != nil {
		s.internal(w, "get_accounts", err)
		return
	}
	respond(w, http.StatusOK, accts)
}

func (s *Server) handleGetOffers(w http.ResponseWriter, r *http.Request) {
	offers := s.ledger.NymOffers(mux.Vars(r)["nym"])
	if offers == nil {
		offers = []offer.Offer{}
	}
	respond(w, http.StatusOK, offers)
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	books := s.ledger.Books()
	keys := books.Markets()
	out := make([]MarketInfo, 0, len(keys))
	for _, k := range keys {
		b := books.Book(k)
		out = append(out, MarketInfo{
			Key:            k.String(),
			Scale:          k.Scale,
			AssetTypeID:    k.AssetTypeID,
			CurrencyTypeID: k.CurrencyTypeID,
			Offers:         b.Len(),
			LastPrice:      b.LastPrice(),
		})
	}
	respond(w, http.StatusOK, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scale, err := strconv.ParseInt(q.Get("scale"), 10, 64)
	if err != nil || scale <= 0 || q.Get("asset") == "" || q.Get("currency") == "" {
		fail(w, http.StatusBadRequest, "market needs scale, asset and currency")
		return
	}
	key := offer.MarketKey{Scale: scale, AssetTypeID: q.Get("asset"), CurrencyTypeID: q.Get("currency")}
	respond(w, http.StatusOK, s.snapshot(key))
}

func (s *Server) snapshot(key offer.MarketKey) OrderbookSnapshot {
	b := s.ledger.Books().Book(key)
	snap := OrderbookSnapshot{
		Market:    key,
		Bids:      []PriceLevel{},
		Asks:      []PriceLevel{},
		LastPrice: b.LastPrice(),
		Timestamp: time.Now().UnixMilli(),
	}
	for _, l := range b.BidLevels() {
		snap.Bids = append(snap.Bids, PriceLevel{Price: l.Price, Assets: l.Assets})
	}
	for _, l := range b.AskLevels() {
		snap.Asks = append(snap.Asks, PriceLevel{Price: l.Price, Assets: l.Assets})
	}
	return snap
}

// ==============================
// Signed requests
// ==============================

// handlerFunc serves one verified request. body is the raw signed JSON.
type handlerFunc func(r *http.Request, h notary.Header, body []byte) (any, error)

var errBadRequest = errors.New("bad request")

// signed verifies the nym signature and server id before calling next, and
// folds next's error into the response flags. For transactional requests a
// refused transaction still counts as a successfully processed message.
func (s *Server) signed(transactional bool, next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			fail(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		h, err := notary.VerifyRequest(body, r.Header.Get(notary.SignatureHeader))
		if err != nil {
			s.log.Warnw("request_rejected", "path", r.URL.Path, "err", err)
			fail(w, http.StatusUnauthorized, err.Error())
			return
		}
		if h.ServerID != s.ledger.ServerID() {
			fail(w, http.StatusBadRequest, fmt.Sprintf("wrong notary %q", h.ServerID))
			return
		}

		data, err := next(r, h, body)
		log := s.log.With("path", r.URL.Path, "nym", crypto.ShortID(h.NymID), "request_id", h.RequestID)
		if err != nil && (!transactional || errors.Is(err, errBadRequest)) {
			log.Infow("message_failed", "err", err)
			fail(w, statusFor(err), err.Error())
			return
		}
		resp := notary.Response{Success: true}
		if transactional {
			resp.Transactional = true
			resp.BalanceAgreement = !errors.Is(err, ledger.ErrInsufficientFunds)
			resp.TransactionSuccess = err == nil
			if err != nil {
				resp.Message = err.Error()
				log.Infow("transaction_failed", "balance_agreement", resp.BalanceAgreement, "err", err)
			}
		}
		if err == nil && data != nil {
			raw, merr := json.Marshal(data)
			if merr != nil {
				s.internal(w, "marshal_response", merr)
				return
			}
			resp.Data = raw
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) registerNym(_ *http.Request, h notary.Header, _ []byte) (any, error) {
	return nil, s.ledger.RegisterNym(h.NymID)
}

func (s *Server) registerAccount(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.RegisterAccountRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return s.ledger.RegisterAccount(h.NymID, req.Name, req.InstrumentDefinitionID, req.InitialBalance)
}

func (s *Server) reserveNumbers(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.ReserveNumbersRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return s.ledger.ReserveNumbers(h.NymID, req.Count)
}

func (s *Server) harvestNumbers(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.HarvestNumbersRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	return nil, s.ledger.HarvestNumbers(h.NymID, req.Numbers)
}

func (s *Server) sendPayment(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.SendPaymentRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if _, err := contract.InstrumentType(req.Instrument); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	p, err := s.ledger.SendPayment(h.NymID, req.RecipientNymID, req.Instrument)
	if err != nil {
		return nil, err
	}
	s.publish(req.RecipientNymID, notary.EventPaymentReceived, p)
	return p, nil
}

func (s *Server) fetchPayments(_ *http.Request, h notary.Header, _ []byte) (any, error) {
	out, err := s.ledger.FetchPayments(h.NymID)
	if out == nil && err == nil {
		out = []notary.Payment{}
	}
	return out, err
}

func (s *Server) processInbox(r *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.ProcessInboxRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if req.AccountID != mux.Vars(r)["account"] {
		return nil, fmt.Errorf("%w: account id does not match the path", errBadRequest)
	}
	out, err := s.ledger.ProcessInbox(h.NymID, req.AccountID)
	if out == nil && err == nil {
		out = []notary.Receipt{}
	}
	return out, err
}

func (s *Server) placeOffer(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.PlaceOfferRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	res, _, err := s.ledger.PlaceOffer(h.NymID, req.Offer)
	if err != nil {
		return nil, err
	}
	s.publish(h.NymID, notary.EventOfferPlaced, res)
	for _, f := range res.Fills {
		s.publish(f.MakerNym, notary.EventOfferFilled, f)
	}
	s.BroadcastOrderbook(res.Offer.Key())
	return res, nil
}

func (s *Server) cancelOffer(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.CancelOfferRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	o, err := s.ledger.CancelOffer(h.NymID, req.AccountID, req.TransactionID)
	if err != nil {
		return nil, err
	}
	s.publish(h.NymID, notary.EventOfferCancelled, o)
	s.BroadcastOrderbook(o.Key())
	return o, nil
}

func (s *Server) activate(_ *http.Request, h notary.Header, body []byte) (any, error) {
	var req notary.ActivateRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	doc, err := contract.Decode(req.Instrument)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	receipts, err := s.ledger.Activate(h.NymID, req.AccountID, req.AgentName, doc)
	if err != nil {
		return nil, err
	}
	notified := map[string]bool{}
	for _, p := range doc.Parties {
		if !notified[p.NymID] {
			notified[p.NymID] = true
			s.publish(p.NymID, notary.EventContractActivated, doc.ID)
		}
	}
	if doc.Plan != nil {
		s.publish(doc.Plan.SenderNymID, notary.EventContractActivated, doc.ID)
		s.publish(doc.Plan.RecipientNymID, notary.EventContractActivated, doc.ID)
	}
	return receipts, nil
}

// ==============================
// Broadcasts
// ==============================

func (s *Server) publish(nymID, eventType string, data any) {
	if nymID == "" {
		return
	}
	s.hub.BroadcastToChannel(notary.NymChannel(nymID), notary.Event{
		Type:  eventType,
		NymID: nymID,
		Data:  data,
		At:    time.Now().Unix(),
	})
}

// BroadcastOrderbook pushes the market's current depth to its subscribers.
func (s *Server) BroadcastOrderbook(key offer.MarketKey) {
	s.hub.BroadcastToChannel(notary.MarketChannel(key), OrderbookUpdate{
		Type:              "orderbook",
		OrderbookSnapshot: s.snapshot(key),
	})
}

// ==============================
// Helpers
// ==============================

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotRegistered),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, ledger.ErrUnknownOffer):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest),
		errors.Is(err, ledger.ErrInvalidRequest),
		errors.Is(err, ledger.ErrBadNumber):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func respond(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status, notary.Response{Success: true, Data: raw})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, notary.Response{Success: false, Message: message})
}

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	s.log.Errorw("internal_error", "op", op, "err", err)
	fail(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
