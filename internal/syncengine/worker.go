package syncengine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/CanopyCatalog/canopy/backend/internal/bundle"
)

// decodeRequest carries one compressed payload and its reply channel; every
// request receives exactly one response.
type decodeRequest struct {
	payload []byte
	reply   chan decodeResponse
}

type decodeResponse struct {
	products []LocalProduct
	err      error
}

// Worker decompresses, parses and transforms bundle payloads away from the
// goroutine orchestrating the sync, so large catalogs cannot stall it.
// Communication is message-passing only; no memory is shared.
type Worker struct {
	requests chan decodeRequest
	done     chan struct{}
}

// NewWorker starts the given number of decode goroutines (minimum one).
func NewWorker(workers int) *Worker {
	if workers < 1 {
		workers = 1
	}
	w := &Worker{
		requests: make(chan decodeRequest),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

// Stop terminates the decode goroutines. In-flight requests complete.
func (w *Worker) Stop() {
	close(w.done)
}

// Decode submits a payload and waits for the single correlated response.
func (w *Worker) Decode(ctx context.Context, payload []byte) ([]LocalProduct, error) {
	request := decodeRequest{payload: payload, reply: make(chan decodeResponse, 1)}
	select {
	case w.requests <- request:
	case <-w.done:
		return nil, fmt.Errorf("syncengine: worker stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case response := <-request.reply:
		return response.products, response.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) run() {
	for {
		select {
		case request := <-w.requests:
			request.reply <- w.process(request.payload)
		case <-w.done:
			return
		}
	}
}

// process never lets a panic cross the worker boundary; any failure becomes
// an error response.
func (w *Worker) process(payload []byte) (response decodeResponse) {
	defer func() {
		if recovered := recover(); recovered != nil {
			response = decodeResponse{err: fmt.Errorf("%w: decode panic: %v", ErrCorruptBundle, recovered)}
		}
	}()

	serialized, err := decompress(payload)
	if err != nil {
		return decodeResponse{err: fmt.Errorf("%w: %v", ErrCorruptBundle, err)}
	}

	var decoded wireBundle
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return decodeResponse{err: fmt.Errorf("%w: %v", ErrCorruptBundle, err)}
	}
	if decoded.SchemaVersion != bundle.SchemaVersion {
		return decodeResponse{err: fmt.Errorf("%w: %q", ErrSchemaVersion, decoded.SchemaVersion)}
	}
	if decoded.Products == nil {
		return decodeResponse{err: fmt.Errorf("%w: missing products array", ErrCorruptBundle)}
	}

	products := make([]LocalProduct, 0, len(decoded.Products))
	for _, wire := range decoded.Products {
		product, err := transformProduct(wire)
		if err != nil {
			return decodeResponse{err: err}
		}
		products = append(products, product)
	}
	return decodeResponse{products: products}
}

func decompress(payload []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
