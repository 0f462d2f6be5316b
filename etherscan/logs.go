/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/acronis/go-etherscan-provider/log"
)

// aggregateLogs implements eth_getLogs, which the remote API has no single call for.
// It fetches the block named by the filter, then fetches the receipt of every
// transaction in it concurrently, and returns the concatenation of all receipts'
// log entries in block transaction order. The aggregate completes only after
// receipts for all transactions resolved; a block with no transactions yields
// an empty result immediately.
func (p *Provider) aggregateLogs(ctx context.Context, item *queuedItem) (json.RawMessage, error) {
	blockTag, err := logsBlockTag(item.payload.Params)
	if err != nil {
		return nil, err
	}

	blockRaw, err := p.call(ctx, item.scheme, item.network, apiCall{
		httpMethod: http.MethodGet,
		module:     moduleProxy,
		action:     "eth_getBlockByNumber",
		params:     []queryParam{{"tag", blockTag}, {"boolean", "true"}},
	})
	if err != nil {
		return nil, err
	}

	var block struct {
		Number       *hexutil.Big `json:"number"`
		Transactions []struct {
			Hash string `json:"hash"`
		} `json:"transactions"`
	}
	if err = json.Unmarshal(blockRaw, &block); err != nil {
		p.logger.Error("failed to parse block while aggregating logs",
			log.String("tag", blockTag), log.Error(err))
		return nil, &MalformedResponseError{Inner: err}
	}

	txCount := len(block.Transactions)
	if txCount == 0 {
		return json.RawMessage("[]"), nil
	}

	logsByTx := make([][]json.RawMessage, txCount)
	errs := make([]error, txCount)
	var wg sync.WaitGroup
	for i := range block.Transactions {
		wg.Add(1)
		go func(i int, txHash string) {
			defer wg.Done()
			logsByTx[i], errs[i] = p.fetchReceiptLogs(ctx, item, txHash)
		}(i, block.Transactions[i].Hash)
	}
	wg.Wait()

	if err = pickReceiptError(errs); err != nil {
		return nil, err
	}

	aggregated := make([]json.RawMessage, 0, txCount)
	for _, logs := range logsByTx {
		aggregated = append(aggregated, logs...)
	}
	result, err := json.Marshal(aggregated)
	if err != nil {
		return nil, err
	}

	// Pending blocks come back with a null number.
	blockNumber := blockTag
	if block.Number != nil {
		blockNumber = block.Number.String()
	}
	p.logger.Debug("aggregated block logs",
		log.String("block", blockNumber),
		log.Int("tx_count", txCount),
		log.Int("log_count", len(aggregated)))
	return result, nil
}

// fetchReceiptLogs performs one receipt sub-call of the fan-out. Each fetch is
// admitted by the rate limiter individually, so an aggregate over a busy block
// cannot burst past the per-second cap.
func (p *Provider) fetchReceiptLogs(ctx context.Context, item *queuedItem, txHash string) ([]json.RawMessage, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Inner: err}
	}
	receiptRaw, err := p.call(ctx, item.scheme, item.network, apiCall{
		httpMethod: http.MethodGet,
		module:     moduleProxy,
		action:     "eth_getTransactionReceipt",
		params:     []queryParam{{"txhash", txHash}},
	})
	if err != nil {
		return nil, err
	}
	var receipt struct {
		Logs []json.RawMessage `json:"logs"`
	}
	if err = json.Unmarshal(receiptRaw, &receipt); err != nil {
		return nil, &MalformedResponseError{Inner: err}
	}
	return receipt.Logs, nil
}

// pickReceiptError chooses the error to surface for a failed fan-out.
// A rate-limiting signal wins over other failures so that the whole request
// is re-queued instead of failing the caller.
func pickReceiptError(errs []error) error {
	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if isRateLimited(err) {
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// logsBlockTag extracts the block tag from the filter parameter.
// Both hex string tags and plain JSON numbers are accepted; an absent filter
// or an absent fromBlock field means the latest block.
func logsBlockTag(params []interface{}) (string, error) {
	if len(params) == 0 || params[0] == nil {
		return "latest", nil
	}
	filter, ok := params[0].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("filter parameter must be an object")
	}
	v, ok := filter["fromBlock"]
	if !ok || v == nil {
		return "latest", nil
	}
	switch tag := v.(type) {
	case string:
		return tag, nil
	case float64:
		return hexutil.EncodeUint64(uint64(tag)), nil
	}
	return "", fmt.Errorf("filter fromBlock must be a block tag or a number")
}
