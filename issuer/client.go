package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/segurotech/emisor/batch"
	"github.com/segurotech/emisor/config"
	"github.com/segurotech/emisor/errors"
	"github.com/segurotech/emisor/logger"
)

// Client submits batch units to the issuance API. One Submit call performs
// the full quote/validate/confirm sequence for a single unit and returns a
// typed Outcome. Transport-level failures (connection, timeout) surface as
// errors; API-level rejections come back as failure outcomes.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *tokenSource
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// New creates an issuance API client from configuration.
func New(cfg config.IssuerConfig, log *zap.SugaredLogger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	if log == nil {
		log = logger.Logger
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    httpClient,
		tokens: &tokenSource{
			baseURL:  cfg.BaseURL,
			username: cfg.Username,
			password: cfg.Password,
			client:   httpClient,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		log:     log,
	}
}

// quoteRequest is the payload of the quote call: the unit's insured group
// plus its opaque policy metadata.
type quoteRequest struct {
	Factura string          `json:"factura"`
	Insured []batch.Insured `json:"insured"`
	Policy  json.RawMessage `json:"policy,omitempty"`
}

type quoteResponse struct {
	QuoteID    string `json:"cotizacion_id"`
	ManagerURI string `json:"uri_manager"`
}

type validateResponse struct {
	Status     string `json:"status"`
	PaymentURI string `json:"uri_pago"`
}

type confirmResponse struct {
	TicketID string `json:"ticket_id"`
}

// Submit runs the full issuance sequence for one batch unit. The returned
// error is non-nil only for transport-level problems; every API-level
// refusal is expressed through the Outcome.
func (c *Client) Submit(ctx context.Context, unit batch.Unit) (Outcome, error) {
	c.log.Infow("submitting batch unit",
		logger.FieldFactura, unit.Factura,
		logger.FieldInsured, len(unit.Insured),
	)

	// Stage 1: quote
	quoteBody, err := json.Marshal(quoteRequest{
		Factura: unit.Factura,
		Insured: unit.Insured,
		Policy:  unit.Policy,
	})
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to encode quote for factura %s", unit.Factura)
	}

	status, body, err := c.post(ctx, "/api/emision/cotizar", quoteBody)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "quote request failed for factura %s", unit.Factura)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return c.failure(unit, StageQuote, status, body), nil
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to decode quote response for factura %s", unit.Factura)
	}
	if quote.QuoteID == "" {
		return c.failure(unit, StageQuote, status, body), nil
	}

	// Stage 2: manager validation. Active-coverage conflicts come back here
	// as 417 with the conflicting individuals in the body.
	status, body, err = c.post(ctx, "/api/manager/"+quote.QuoteID, nil)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "validation request failed for factura %s", unit.Factura)
	}
	if status != http.StatusOK {
		return c.failure(unit, StageValidate, status, body), nil
	}

	var validation validateResponse
	if err := json.Unmarshal(body, &validation); err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to decode validation response for factura %s", unit.Factura)
	}

	// Stage 3: payment confirmation
	status, body, err = c.post(ctx, "/api/pago/"+quote.QuoteID, nil)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "confirmation request failed for factura %s", unit.Factura)
	}
	if status != http.StatusOK {
		return c.failure(unit, StageConfirm, status, body), nil
	}

	var confirm confirmResponse
	if err := json.Unmarshal(body, &confirm); err != nil {
		return Outcome{}, errors.Wrapf(err, "failed to decode confirmation response for factura %s", unit.Factura)
	}
	if confirm.TicketID == "" {
		return c.failure(unit, StageConfirm, status, body), nil
	}

	c.log.Infow("batch unit issued",
		logger.FieldFactura, unit.Factura,
		logger.FieldTicketID, confirm.TicketID,
	)
	return Outcome{Success: true, TicketID: confirm.TicketID}, nil
}

// failure builds the failure outcome for a non-success API response,
// extracting rejected individuals when the body carries them.
func (c *Client) failure(unit batch.Unit, stage Stage, status int, body []byte) Outcome {
	message, rejected := parseRejection(body)

	c.log.Warnw("batch unit rejected",
		logger.FieldFactura, unit.Factura,
		logger.FieldStage, string(stage),
		logger.FieldHTTPStatus, status,
		logger.FieldRemoved, len(rejected),
	)

	return Outcome{
		Stage:       stage,
		HTTPStatus:  status,
		Message:     message,
		RawResponse: string(body),
		Rejected:    rejected,
	}
}

// post sends an authenticated JSON request and returns status plus body.
// Waits on the rate limiter before each call.
func (c *Client) post(ctx context.Context, path string, payload []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, errors.Wrap(err, "rate limiter wait interrupted")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "failed to read response from %s", path)
	}

	// An expired token means the cache is stale; drop it so the next call
	// re-authenticates. The current unit still fails.
	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}

	return resp.StatusCode, body, nil
}
