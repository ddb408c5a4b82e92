package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pvp-ml/inference-server/internal/catalog"
	"github.com/pvp-ml/inference-server/internal/metrics"
	"github.com/pvp-ml/inference-server/internal/model"
	"github.com/pvp-ml/inference-server/internal/processor"
	"github.com/pvp-ml/inference-server/internal/protocol"
)

// handleConn runs the per-connection loop: read one line, fully respond,
// read the next. Request-level failures produce an error line and keep the
// connection; transport failures and end-of-stream close it.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	clientID := conn.RemoteAddr().String()
	log.Printf("[%s] Client connected", clientID)
	metrics.ActiveConnections.Inc()
	defer func() {
		conn.Close()
		metrics.ActiveConnections.Dec()
		log.Printf("[%s] Client disconnected", clientID)
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Printf("[%s] Connection error: %v", clientID, err)
			}
			return
		}
		out := s.handleRequest(ctx, clientID, line)
		if _, err := conn.Write(out); err != nil {
			log.Printf("[%s] Connection error: %v", clientID, err)
			return
		}
	}
}

// handleRequest processes one wire line and returns the line to write
// back: either an encoded response or an error object.
func (s *Server) handleRequest(ctx context.Context, clientID string, line []byte) []byte {
	start := time.Now()

	req, err := protocol.DecodeRequest(line)
	if err != nil {
		log.Printf("[%s] Error processing request: %v", clientID, err)
		metrics.RecordRequest("unknown", "malformed", time.Since(start).Seconds())
		return protocol.EncodeError(err.Error())
	}

	ctx, span := s.tracer.Start(ctx, "inference.request",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	resp, err := s.process(ctx, clientID, req)
	if err != nil {
		span.RecordError(err)
		log.Printf("[%s] Error processing request: %v", clientID, err)
		metrics.RecordRequest(req.Model, statusFor(err), time.Since(start).Seconds())
		return protocol.EncodeError(err.Error())
	}

	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		span.RecordError(err)
		log.Printf("[%s] Error encoding response: %v", clientID, err)
		metrics.RecordRequest(req.Model, "encode_error", time.Since(start).Seconds())
		return protocol.EncodeError(err.Error())
	}

	elapsed := time.Since(start)
	metrics.RecordRequest(req.Model, "ok", elapsed.Seconds())
	log.Printf("[%s] Generated response in %.4f seconds: %v", clientID, elapsed.Seconds(), resp.Action)

	if s.cfg.Telemetry != nil {
		go func(name string, latency time.Duration) {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.cfg.Telemetry.RecordPrediction(rctx, name, latency); err != nil {
				log.Printf("[%s] Telemetry error: %v", clientID, err)
			}
		}(req.Model, elapsed)
	}

	return out
}

// process resolves the model, flattens the per-head masks, runs the
// prediction on the pool, and regroups the outputs per head.
func (s *Server) process(ctx context.Context, clientID string, req *protocol.InferenceRequest) (*protocol.InferenceResponse, error) {
	location, err := s.catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	log.Printf("[%s] Generating prediction using model: %s", clientID, req.Model)

	// The model expects one flat mask; keep the per-head sizes so the
	// flattened outputs can be regrouped on the way back.
	flatMasks, headSizes := flattenMasks(req.ActionMasks)

	deterministic := make([]bool, len(headSizes))
	for i := range deterministic {
		deterministic[i] = req.Deterministic.ForHead(i)
	}

	obs := make([][]float32, len(req.Obs))
	for i, frame := range req.Obs {
		obs[i] = frame
	}

	result, err := s.proc.Predict(ctx, location, obs, flatMasks, model.PredictOptions{
		HeadSizes:     headSizes,
		Deterministic: deterministic,
		ReturnLogProb: req.ReturnLogProb,
		ReturnEntropy: req.ReturnEntropy,
		ReturnValue:   req.ReturnValue,
		ReturnProbs:   req.ReturnProbs,
		Extensions:    req.Extensions,
	})
	if err != nil {
		return nil, err
	}

	resp := &protocol.InferenceResponse{
		Action:           result.Action,
		LogProb:          result.LogProb,
		Entropy:          result.Entropy,
		Values:           result.Values,
		ExtensionResults: result.ExtensionResults,
	}
	if req.ReturnProbs && result.Probs != nil {
		resp.Probs = splitProbs(result.Probs, headSizes)
	}
	return resp, nil
}

// statusFor maps a request-level failure to its metrics label.
func statusFor(err error) string {
	var unknownModel *catalog.UnknownModelError
	var loadFailure *processor.LoadFailureError
	switch {
	case errors.As(err, &unknownModel):
		return "unknown_model"
	case errors.As(err, &loadFailure):
		return "load_failure"
	case errors.Is(err, processor.ErrProcessorClosed):
		return "shutting_down"
	default:
		return "error"
	}
}

// flattenMasks joins the per-head masks into one contiguous mask, head
// order preserved, and returns the original per-head lengths.
func flattenMasks(masks [][]bool) ([]bool, []int) {
	headSizes := make([]int, len(masks))
	total := 0
	for i, mask := range masks {
		headSizes[i] = len(mask)
		total += len(mask)
	}

	flat := make([]bool, 0, total)
	for _, mask := range masks {
		flat = append(flat, mask...)
	}
	return flat, headSizes
}

// splitProbs cuts the flattened probabilities at the cumulative boundaries
// of the original per-head mask lengths.
func splitProbs(flat []float64, headSizes []int) [][]float64 {
	out := make([][]float64, len(headSizes))
	offset := 0
	for i, size := range headSizes {
		out[i] = flat[offset : offset+size]
		offset += size
	}
	return out
}
