/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package etherscan

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Remote API modules.
const (
	moduleProxy   = "proxy"
	moduleAccount = "account"
)

// methodGetLogs is not a single remote call and is handled separately (see logs.go).
const methodGetLogs = "eth_getLogs"

// queryParam is a single key/value pair of the outgoing query string.
// Order is significant for the wire format, so the params are kept as a slice.
type queryParam struct {
	key   string
	value string
}

// apiCall is the translated shape of one RPC method invocation:
// the HTTP verb plus the module/action/params triple of the remote API.
type apiCall struct {
	httpMethod string
	module     string
	action     string
	params     []queryParam
}

func proxyCall(action string, params ...queryParam) (apiCall, error) {
	return apiCall{httpMethod: http.MethodGet, module: moduleProxy, action: action, params: params}, nil
}

// translators maps every supported RPC method to a pure function building the remote call
// from the ordered parameter sequence. Methods absent from this table (except eth_getLogs)
// fall through to the next handler in the pipeline.
var translators = map[string]func(params []interface{}) (apiCall, error){
	"eth_blockNumber": func(_ []interface{}) (apiCall, error) {
		return proxyCall("eth_blockNumber")
	},
	"eth_getBlockByNumber": func(params []interface{}) (apiCall, error) {
		tag, err := stringParam(params, 0, "tag")
		if err != nil {
			return apiCall{}, err
		}
		fullTxs, err := boolParam(params, 1, "boolean")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getBlockByNumber",
			queryParam{"tag", tag}, queryParam{"boolean", fmt.Sprintf("%t", fullTxs)})
	},
	"eth_getBlockTransactionCountByNumber": func(params []interface{}) (apiCall, error) {
		tag, err := stringParam(params, 0, "tag")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getBlockTransactionCountByNumber", queryParam{"tag", tag})
	},
	"eth_getTransactionByHash": func(params []interface{}) (apiCall, error) {
		txHash, err := stringParam(params, 0, "txhash")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getTransactionByHash", queryParam{"txhash", txHash})
	},
	"eth_getTransactionReceipt": func(params []interface{}) (apiCall, error) {
		txHash, err := stringParam(params, 0, "txhash")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getTransactionReceipt", queryParam{"txhash", txHash})
	},
	"eth_getTransactionCount": func(params []interface{}) (apiCall, error) {
		address, err := stringParam(params, 0, "address")
		if err != nil {
			return apiCall{}, err
		}
		tag, err := stringParam(params, 1, "tag")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getTransactionCount", queryParam{"address", address}, queryParam{"tag", tag})
	},
	"eth_getBalance": func(params []interface{}) (apiCall, error) {
		address, err := stringParam(params, 0, "address")
		if err != nil {
			return apiCall{}, err
		}
		tag, err := stringParam(params, 1, "tag")
		if err != nil {
			return apiCall{}, err
		}
		return apiCall{
			httpMethod: http.MethodGet,
			module:     moduleAccount,
			action:     "balance",
			params:     []queryParam{{"address", address}, {"tag", tag}},
		}, nil
	},
	"eth_getCode": func(params []interface{}) (apiCall, error) {
		address, err := stringParam(params, 0, "address")
		if err != nil {
			return apiCall{}, err
		}
		tag, err := stringParam(params, 1, "tag")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getCode", queryParam{"address", address}, queryParam{"tag", tag})
	},
	"eth_getStorageAt": func(params []interface{}) (apiCall, error) {
		address, err := stringParam(params, 0, "address")
		if err != nil {
			return apiCall{}, err
		}
		position, err := stringParam(params, 1, "position")
		if err != nil {
			return apiCall{}, err
		}
		tag, err := stringParam(params, 2, "tag")
		if err != nil {
			return apiCall{}, err
		}
		return proxyCall("eth_getStorageAt",
			queryParam{"address", address}, queryParam{"position", position}, queryParam{"tag", tag})
	},
	"eth_call": func(params []interface{}) (apiCall, error) {
		txObj, err := objectParam(params, 0)
		if err != nil {
			return apiCall{}, err
		}
		call := apiCall{httpMethod: http.MethodGet, module: moduleProxy, action: "eth_call"}
		call.params = appendObjectFields(call.params, txObj, "to", "data")
		if len(params) > 1 {
			if tag, tagErr := stringParam(params, 1, "tag"); tagErr == nil {
				call.params = append(call.params, queryParam{"tag", tag})
			}
		}
		return call, nil
	},
	"eth_estimateGas": func(params []interface{}) (apiCall, error) {
		txObj, err := objectParam(params, 0)
		if err != nil {
			return apiCall{}, err
		}
		call := apiCall{httpMethod: http.MethodGet, module: moduleProxy, action: "eth_estimateGas"}
		// Optional numeric fields are omitted entirely when null or absent.
		call.params = appendObjectFields(call.params, txObj, "to", "value", "data", "gas", "gasPrice")
		return call, nil
	},
	"eth_sendRawTransaction": func(params []interface{}) (apiCall, error) {
		rawTx, err := stringParam(params, 0, "hex")
		if err != nil {
			return apiCall{}, err
		}
		return apiCall{
			httpMethod: http.MethodPost,
			module:     moduleProxy,
			action:     "eth_sendRawTransaction",
			params:     []queryParam{{"hex", rawTx}},
		}, nil
	},
}

// isKnownMethod tells whether the dispatcher handles the method at all.
func isKnownMethod(method string) bool {
	if method == methodGetLogs {
		return true
	}
	_, ok := translators[method]
	return ok
}

func stringParam(params []interface{}, i int, name string) (string, error) {
	if i >= len(params) || params[i] == nil {
		return "", fmt.Errorf("missing parameter %q (position %d)", name, i)
	}
	s, ok := params[i].(string)
	if !ok {
		return "", fmt.Errorf("parameter %q (position %d) must be a string", name, i)
	}
	return s, nil
}

func boolParam(params []interface{}, i int, name string) (bool, error) {
	if i >= len(params) || params[i] == nil {
		return false, fmt.Errorf("missing parameter %q (position %d)", name, i)
	}
	b, ok := params[i].(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q (position %d) must be a boolean", name, i)
	}
	return b, nil
}

func objectParam(params []interface{}, i int) (map[string]interface{}, error) {
	if i >= len(params) || params[i] == nil {
		return nil, fmt.Errorf("missing object parameter (position %d)", i)
	}
	obj, ok := params[i].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameter (position %d) must be an object", i)
	}
	return obj, nil
}

// appendObjectFields appends the named fields of a transaction-like object as query params,
// skipping null and absent values. Numeric JSON values are re-encoded as hex quantities.
func appendObjectFields(dst []queryParam, obj map[string]interface{}, keys ...string) []queryParam {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			dst = append(dst, queryParam{key, val})
		case float64:
			dst = append(dst, queryParam{key, hexutil.EncodeUint64(uint64(val))})
		}
	}
	return dst
}
