package custody

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const gatewayURL = "http://gateway.local"

func newMockedGateway(t *testing.T, retries int) *HTTPGateway {
	t.Helper()
	gw := NewHTTPGateway(HTTPGatewayConfig{BaseURL: gatewayURL + "/", RetryCount: retries, AuthToken: "secret"}, nil)
	httpmock.ActivateNonDefault(gw.Client().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return gw
}

func TestHTTPGatewayTransferFrom(t *testing.T) {
	gw := newMockedGateway(t, 0)

	var got transferRequest
	httpmock.RegisterResponder("POST", gatewayURL+"/tokens/transferFrom",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			return httpmock.NewJsonResponse(200, map[string]interface{}{"success": true, "txId": "0xabc"})
		})

	err := gw.TransferFrom(context.Background(), tokenID, custodyAddr, trader, custodyAddr, big.NewInt(1234))
	require.NoError(t, err)
	require.Equal(t, hexAddr(tokenID), got.Token)
	require.Equal(t, hexAddr(custodyAddr), got.Spender)
	require.Equal(t, hexAddr(trader), got.From)
	require.Equal(t, "1234", got.Amount)
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPGatewayRejected(t *testing.T) {
	gw := newMockedGateway(t, 0)
	httpmock.RegisterResponder("POST", gatewayURL+"/tokens/transfer",
		httpmock.NewStringResponder(200, `{"success":false,"error":"paused"}`))

	err := gw.Transfer(context.Background(), tokenID, custodyAddr, trader, big.NewInt(1))
	require.True(t, errors.Is(err, ErrTransferRejected))
}

func TestHTTPGatewayRetriesServerErrors(t *testing.T) {
	gw := newMockedGateway(t, 2)
	httpmock.RegisterResponder("POST", gatewayURL+"/tokens/transferFromNonStandard",
		httpmock.NewStringResponder(502, `bad gateway`))

	err := gw.TransferFromNonStandard(context.Background(), tokenID, trader, custodyAddr, big.NewInt(1))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrTransferRejected))
	require.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestStaticResolverRoutes(t *testing.T) {
	fallback := &recordingGateway{}
	routed := &recordingGateway{}
	r := NewStaticResolver(fallback)
	r.Register(tokenID, routed)

	gw, id, err := r.Resolve(token)
	require.NoError(t, err)
	require.Same(t, routed, gw)
	require.Equal(t, tokenID, id)

	gw, _, err = r.Resolve(dustA)
	require.NoError(t, err)
	require.Same(t, fallback, gw)

	_, _, err = r.Resolve(native)
	require.ErrorIs(t, err, ErrNoGateway)

	_, _, err = NewStaticResolver(nil).Resolve(dustA)
	require.ErrorIs(t, err, ErrNoGateway)
}
