package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/cloudx-io/sealedvwap/fhe"
	"github.com/cloudx-io/sealedvwap/oracleapi"
)

const connectionTimeout = 30 * time.Second

// Server exposes an Oracle over a stream listener (vsock inside an enclave, TCP elsewhere).
// Each connection carries one JSON request and one JSON response.
type Server struct {
	oracle     *Oracle
	attester   EnclaveAttester
	logger     *zap.Logger
	maxWorkers int
}

// NewServer creates a server. attester may be nil, in which case key responses carry no attestation.
func NewServer(o *Oracle, attester EnclaveAttester, maxWorkers int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Server{
		oracle:     o,
		attester:   attester,
		logger:     logger,
		maxWorkers: maxWorkers,
	}
}

// Serve accepts connections until ctx ends or the listener is closed.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("Failed to close listener", zap.Error(err))
		}
	}()

	semaphore := make(chan struct{}, s.maxWorkers)
	s.logger.Info("Oracle server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_workers", s.maxWorkers))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			s.logger.Info("No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				s.logger.Error("Failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in handleConnection", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.logger.Error("Failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(connectionTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		s.logger.Error("Failed to read request", zap.Error(err))
		return
	}

	response := s.handleRequest(raw)
	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleRequest(raw []byte) any {
	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		return errorResponse("Failed to decode request: %v", err)
	}

	s.logger.Debug("Received request", zap.String("type", baseReq.Type))

	switch baseReq.Type {
	case oracleapi.TypePing:
		return map[string]any{
			"type":      oracleapi.TypePong,
			"message":   "oracle is healthy",
			"timestamp": time.Now().Unix(),
		}

	case oracleapi.TypeKeyRequest:
		resp, err := s.keyResponse()
		if err != nil {
			s.logger.Error("Key request failed", zap.Error(err))
			return errorResponse("Key request failed: %v", err)
		}
		return resp

	case oracleapi.TypeDecryptRequest:
		var req oracleapi.DecryptRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return errorResponse("Failed to decode decrypt request: %v", err)
		}

		var ct fhe.Ciphertext
		if err := cbor.Unmarshal(req.Ciphertext, &ct); err != nil {
			return errorResponse("Invalid ciphertext: %v", err)
		}

		resp, err := s.oracle.Fulfill(req.RequestID, &ct)
		if err != nil {
			s.logger.Error("Decrypt request failed", zap.String("request_id", req.RequestID), zap.Error(err))
			return errorResponse("Decrypt request failed: %v", err)
		}
		s.logger.Info("Decrypt request fulfilled", zap.String("request_id", req.RequestID))
		return resp

	default:
		return errorResponse("Unknown request type: %s", baseReq.Type)
	}
}

func (s *Server) keyResponse() (*oracleapi.KeyResponse, error) {
	publicKeyPEM, err := s.oracle.Signer().PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	resp := &oracleapi.KeyResponse{
		Type:      oracleapi.TypeKeyResponse,
		PublicKey: publicKeyPEM,
	}
	if s.attester == nil {
		return resp, nil
	}

	attestation, err := GenerateKeyAttestation(s.attester, publicKeyPEM)
	if err != nil {
		return nil, err
	}
	resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	return resp, nil
}

func errorResponse(format string, args ...any) *oracleapi.ErrorResponse {
	return &oracleapi.ErrorResponse{
		Type:    oracleapi.TypeError,
		Message: fmt.Sprintf(format, args...),
	}
}
