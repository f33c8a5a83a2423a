package rotation

import (
	"context"
	"sync"
)

// BulkResult pairs one request's username with its outcome. Exactly one
// of Issued and Err is set.
type BulkResult struct {
	Username string
	Issued   *Issued
	Err      error
}

// BulkGenerate issues credentials for many accounts. Failures are
// isolated per request; results come back in request order.
func (c *Coordinator) BulkGenerate(ctx context.Context, requests []GenerateRequest) []BulkResult {
	results := make([]BulkResult, len(requests))
	var wg sync.WaitGroup

	// Use a semaphore to limit concurrent issuances
	semaphore := make(chan struct{}, 5)

	for i, request := range requests {
		wg.Add(1)
		go func(idx int, req GenerateRequest) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			issued, err := c.Generate(ctx, req)
			results[idx] = BulkResult{Username: req.Username, Issued: issued, Err: err}
		}(i, request)
	}

	wg.Wait()
	return results
}

// BulkRotate rotates many accounts with the same isolation rules as
// BulkGenerate.
func (c *Coordinator) BulkRotate(ctx context.Context, requests []RotateRequest) []BulkResult {
	results := make([]BulkResult, len(requests))
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, 5)

	for i, request := range requests {
		wg.Add(1)
		go func(idx int, req RotateRequest) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			issued, err := c.Rotate(ctx, req)
			results[idx] = BulkResult{Username: req.Username, Issued: issued, Err: err}
		}(i, request)
	}

	wg.Wait()
	return results
}
