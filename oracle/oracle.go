// Package oracle implements the decryption oracle: the only component that turns a
// ciphertext back into plaintext, and only in response to an explicit request whose
// result it signs.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/oracleapi"
)

const defaultQueueSize = 64

var (
	// ErrQueueFull is returned by RequestDecryption when no more requests can be buffered.
	ErrQueueFull = errors.New("decryption queue full")

	// ErrStopped is returned by RequestDecryption after Stop.
	ErrStopped = errors.New("oracle stopped")
)

// Callback receives a completed decryption together with its COSE_Sign1 proof.
type Callback func(ctx context.Context, requestID string, plaintext uint64, proof []byte) error

type job struct {
	requestID string
	ct        *fhe.Ciphertext
}

// Oracle queues decryption requests and answers each asynchronously through the registered
// Callback. It implements fhe.DecryptionRequester.
type Oracle struct {
	decrypter fhe.Decrypter
	signer    *Signer
	logger    *zap.Logger
	now       func() time.Time
	jobs      chan job

	mu       sync.RWMutex
	callback Callback

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

var _ fhe.DecryptionRequester = (*Oracle)(nil)

// Option configures an Oracle.
type Option func(*Oracle)

// WithLogger sets the oracle's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Oracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithQueueSize bounds the number of buffered, unprocessed requests.
func WithQueueSize(n int) Option {
	return func(o *Oracle) {
		if n > 0 {
			o.jobs = make(chan job, n)
		}
	}
}

// WithClock overrides the timestamp source of signed results.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an oracle that decrypts with decrypter and signs with signer.
func New(decrypter fhe.Decrypter, signer *Signer, opts ...Option) *Oracle {
	o := &Oracle{
		decrypter: decrypter,
		signer:    signer,
		logger:    zap.NewNop(),
		now:       time.Now,
		jobs:      make(chan job, defaultQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Signer returns the oracle's result signer.
func (o *Oracle) Signer() *Signer {
	return o.signer
}

// SetCallback registers the completion handler. Results completed with no handler are dropped.
func (o *Oracle) SetCallback(cb Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callback = cb
}

// RequestDecryption implements fhe.DecryptionRequester. It never blocks: the request is
// queued and the result is delivered later through the callback.
func (o *Oracle) RequestDecryption(_ context.Context, ct *fhe.Ciphertext) (string, error) {
	if ct == nil {
		return "", fmt.Errorf("decryption request without ciphertext")
	}

	select {
	case <-o.done:
		return "", ErrStopped
	default:
	}

	requestID := uuid.NewString()
	select {
	case o.jobs <- job{requestID: requestID, ct: ct}:
		o.logger.Info("Decryption request queued",
			zap.String("request_id", requestID),
			zap.String("ciphertext", ct.Handle()))
		return requestID, nil
	default:
		return "", ErrQueueFull
	}
}

// Fulfill decrypts ct and signs the result for requestID.
func (o *Oracle) Fulfill(requestID string, ct *fhe.Ciphertext) (*oracleapi.DecryptResponse, error) {
	if requestID == "" {
		return nil, fmt.Errorf("missing request id")
	}

	plaintext, err := o.decrypter.Decrypt(ct)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	proof, err := o.signer.Sign(oracleapi.DecryptionResult{
		RequestID:        requestID,
		CiphertextDigest: ct.Digest(),
		Plaintext:        plaintext,
		Timestamp:        o.now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	return &oracleapi.DecryptResponse{
		Type:      oracleapi.TypeDecryptResponse,
		RequestID: requestID,
		Plaintext: plaintext,
		Proof:     proof,
	}, nil
}

// Start launches workers that drain the request queue until ctx ends or Stop is called.
func (o *Oracle) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for range workers {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	o.logger.Info("Decryption oracle started", zap.Int("workers", workers))
}

// Stop rejects new requests and waits for running workers to exit.
func (o *Oracle) Stop() {
	o.stopOnce.Do(func() { close(o.done) })
	o.wg.Wait()
}

// ProcessPending synchronously handles every queued request and returns how many it processed.
func (o *Oracle) ProcessPending(ctx context.Context) int {
	n := 0
	for {
		select {
		case j := <-o.jobs:
			o.process(ctx, j)
			n++
		default:
			return n
		}
	}
}

func (o *Oracle) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case j := <-o.jobs:
			o.process(ctx, j)
		}
	}
}

func (o *Oracle) process(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic recovered in decryption worker",
				zap.String("request_id", j.requestID), zap.Any("panic", r))
		}
	}()

	resp, err := o.Fulfill(j.requestID, j.ct)
	if err != nil {
		o.logger.Error("Decryption failed", zap.String("request_id", j.requestID), zap.Error(err))
		return
	}

	o.mu.RLock()
	cb := o.callback
	o.mu.RUnlock()
	if cb == nil {
		o.logger.Warn("No callback registered, dropping decryption result", zap.String("request_id", j.requestID))
		return
	}

	if err := cb(ctx, resp.RequestID, resp.Plaintext, resp.Proof); err != nil {
		o.logger.Warn("Decryption callback rejected result",
			zap.String("request_id", j.requestID), zap.Error(err))
		return
	}
	o.logger.Info("Decryption delivered", zap.String("request_id", j.requestID))
}
