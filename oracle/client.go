package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/oracleapi"
)

// Client talks to a remote oracle Server. As an fhe.DecryptionRequester it returns a
// request id immediately and delivers the signed result to its callback from a goroutine.
type Client struct {
	dial    Dialer
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.RWMutex
	callback Callback

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ fhe.DecryptionRequester = (*Client)(nil)

// NewClient creates a client. A zero timeout means connectionTimeout.
func NewClient(dial Dialer, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = connectionTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		dial:    dial,
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetCallback registers the completion handler.
func (c *Client) SetCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// RequestDecryption implements fhe.DecryptionRequester.
func (c *Client) RequestDecryption(_ context.Context, ct *fhe.Ciphertext) (string, error) {
	if ct == nil {
		return "", fmt.Errorf("decryption request without ciphertext")
	}
	if c.ctx.Err() != nil {
		return "", ErrStopped
	}

	data, err := cbor.Marshal(ct)
	if err != nil {
		return "", fmt.Errorf("encode ciphertext: %w", err)
	}

	requestID := uuid.NewString()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.deliver(requestID, data)
	}()
	return requestID, nil
}

func (c *Client) deliver(requestID string, ciphertext []byte) {
	resp, err := c.Decrypt(c.ctx, requestID, ciphertext)
	if err != nil {
		c.logger.Error("Remote decryption failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}

	c.mu.RLock()
	cb := c.callback
	c.mu.RUnlock()
	if cb == nil {
		c.logger.Warn("No callback registered, dropping decryption result", zap.String("request_id", requestID))
		return
	}

	if err := cb(c.ctx, resp.RequestID, resp.Plaintext, resp.Proof); err != nil {
		c.logger.Warn("Decryption callback rejected result", zap.String("request_id", requestID), zap.Error(err))
	}
}

// Decrypt performs one synchronous decrypt round trip.
func (c *Client) Decrypt(ctx context.Context, requestID string, ciphertext []byte) (*oracleapi.DecryptResponse, error) {
	var resp oracleapi.DecryptResponse
	err := c.roundTrip(ctx, &oracleapi.DecryptRequest{
		Type:       oracleapi.TypeDecryptRequest,
		RequestID:  requestID,
		Ciphertext: ciphertext,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.RequestID != requestID {
		return nil, fmt.Errorf("oracle answered request %q, expected %q", resp.RequestID, requestID)
	}
	return &resp, nil
}

// Key fetches the oracle's result-signing key and its attestation, if any.
func (c *Client) Key(ctx context.Context) (*oracleapi.KeyResponse, error) {
	var resp oracleapi.KeyResponse
	if err := c.roundTrip(ctx, &oracleapi.KeyRequest{Type: oracleapi.TypeKeyRequest}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks that the oracle is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Type string `json:"type"`
	}
	if err := c.roundTrip(ctx, map[string]string{"type": oracleapi.TypePing}, &resp); err != nil {
		return err
	}
	if resp.Type != oracleapi.TypePong {
		return fmt.Errorf("unexpected ping response type %q", resp.Type)
	}
	return nil
}

// Close cancels in-flight requests and waits for their goroutines.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Client) roundTrip(ctx context.Context, req, resp any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial oracle: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		if ctx.Err() != nil {
			return errors.Join(ctx.Err(), err)
		}
		return fmt.Errorf("read response: %w", err)
	}

	var errResp oracleapi.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Type == oracleapi.TypeError {
		return fmt.Errorf("oracle error: %s", errResp.Message)
	}

	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
