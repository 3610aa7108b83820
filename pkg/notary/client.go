package notary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/offer"
)

var ErrWrongServer = errors.New("request for another notary")

// KeyStore hands out nym keys for request signing.
type KeyStore interface {
	Signer(nymID string) (*crypto.Signer, error)
}

// Client talks to one notary over HTTP.
type Client struct {
	baseURL  string
	serverID string
	keys     KeyStore
	http     *http.Client
	log      *zap.SugaredLogger
}

func NewClient(baseURL, serverID string, keys KeyStore, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		serverID: serverID,
		keys:     keys,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (c *Client) ServerID() string { return c.serverID }

func (c *Client) header(nymID, serverID string) (Header, error) {
	if serverID != "" && serverID != c.serverID {
		return Header{}, fmt.Errorf("%w: %s (connected to %s)", ErrWrongServer, serverID, c.serverID)
	}
	return Header{NymID: nymID, ServerID: c.serverID, RequestID: uuid.NewString()}, nil
}

func (c *Client) post(ctx context.Context, path string, req Signed, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	h := req.RequestHeader()
	signer, err := c.keys.Signer(h.NymID)
	if err != nil {
		return fmt.Errorf("load key for %s: %w", h.NymID, err)
	}
	sig, err := signer.SignMessage(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+APIPrefix+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SignatureHeader, hexutil.Encode(sig))

	c.log.Debugw("notary_request", "path", path, "nym", crypto.ShortID(h.NymID), "request_id", h.RequestID)
	return c.do(httpReq, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+APIPrefix+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, out)
}

func (c *Client) do(httpReq *http.Request, out any) error {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("notary %s: %w", httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read notary response: %w", err)
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("notary %s: status %d: %w", httpReq.URL.Path, resp.StatusCode, err)
	}
	return r.Decode(out)
}

func nymPath(nymID string, rest ...string) string {
	return "/nyms/" + url.PathEscape(nymID) + strings.Join(rest, "")
}

func (c *Client) RegisterNym(ctx context.Context, nymID string) error {
	h, err := c.header(nymID, "")
	if err != nil {
		return err
	}
	return c.post(ctx, "/nyms/register", RegisterNymRequest{Header: h}, nil)
}

func (c *Client) IsRegistered(ctx context.Context, nymID, serverID string) (bool, error) {
	if _, err := c.header(nymID, serverID); err != nil {
		return false, err
	}
	var out struct {
		Registered bool `json:"registered"`
	}
	if err := c.get(ctx, nymPath(nymID), &out); err != nil {
		return false, err
	}
	return out.Registered, nil
}

func (c *Client) RegisterAccount(ctx context.Context, nymID, name, instrumentDefinitionID string, initialBalance int64) (Account, error) {
	h, err := c.header(nymID, "")
	if err != nil {
		return Account{}, err
	}
	var acct Account
	err = c.post(ctx, "/accounts/register", RegisterAccountRequest{
		Header:                 h,
		Name:                   name,
		InstrumentDefinitionID: instrumentDefinitionID,
		InitialBalance:         initialBalance,
	}, &acct)
	return acct, err
}

func (c *Client) Accounts(ctx context.Context, nymID string) ([]Account, error) {
	var out []Account
	err := c.get(ctx, nymPath(nymID, "/accounts"), &out)
	return out, err
}

func (c *Client) ReserveNumbers(ctx context.Context, nymID, serverID string, count int) ([]int64, error) {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return nil, err
	}
	var nums []int64
	err = c.post(ctx, "/numbers/reserve", ReserveNumbersRequest{Header: h, Count: count}, &nums)
	return nums, err
}

func (c *Client) HarvestNumbers(ctx context.Context, nymID, serverID string, numbers []int64) error {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return err
	}
	return c.post(ctx, "/numbers/harvest", HarvestNumbersRequest{Header: h, Numbers: numbers}, nil)
}

func (c *Client) DownloadOffers(ctx context.Context, nymID, serverID string) ([]offer.Offer, error) {
	if _, err := c.header(nymID, serverID); err != nil {
		return nil, err
	}
	var out []offer.Offer
	err := c.get(ctx, nymPath(nymID, "/offers"), &out)
	return out, err
}

func (c *Client) PlaceOffer(ctx context.Context, nymID, serverID string, o offer.Offer) (PlaceOfferResult, error) {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return PlaceOfferResult{}, err
	}
	var res PlaceOfferResult
	err = c.post(ctx, "/offers/place", PlaceOfferRequest{Header: h, Offer: o}, &res)
	return res, err
}

func (c *Client) CancelOffer(ctx context.Context, nymID, serverID, accountID string, transactionID int64) error {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return err
	}
	return c.post(ctx, "/offers/cancel", CancelOfferRequest{
		Header:        h,
		AccountID:     accountID,
		TransactionID: transactionID,
	}, nil)
}

func (c *Client) ActivateSmartContract(ctx context.Context, nymID, serverID, accountID, agentName string, doc contract.Document) error {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return err
	}
	text, err := contract.Encode(doc)
	if err != nil {
		return err
	}
	return c.post(ctx, "/contracts/activate", ActivateRequest{
		Header:     h,
		AccountID:  accountID,
		AgentName:  agentName,
		Instrument: text,
	}, nil)
}

func (c *Client) SendPayment(ctx context.Context, nymID, serverID, recipientNymID string, doc contract.Document) error {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return err
	}
	text, err := contract.Encode(doc)
	if err != nil {
		return err
	}
	return c.post(ctx, "/payments/send", SendPaymentRequest{
		Header:         h,
		RecipientNymID: recipientNymID,
		Instrument:     text,
	}, nil)
}

// FetchPayments downloads and clears the nym's payments inbox on the notary.
func (c *Client) FetchPayments(ctx context.Context, nymID, serverID string) ([]Payment, error) {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return nil, err
	}
	var out []Payment
	err = c.post(ctx, "/payments/fetch", FetchPaymentsRequest{Header: h}, &out)
	return out, err
}

// ProcessInbox accepts every pending receipt in the account's inbox.
func (c *Client) ProcessInbox(ctx context.Context, nymID, serverID, accountID string) ([]Receipt, error) {
	h, err := c.header(nymID, serverID)
	if err != nil {
		return nil, err
	}
	var out []Receipt
	err = c.post(ctx, "/accounts/"+url.PathEscape(accountID)+"/inbox/process",
		ProcessInboxRequest{Header: h, AccountID: accountID}, &out)
	return out, err
}
