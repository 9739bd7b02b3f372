// Package remotesign is an optional HTTP-based signer collaborator: a
// client that hands a manifest digest to a signing microservice instead
// of loading a private key locally, and the server side that answers
// it. It mirrors the request/response shape of a JSON signing API,
// grounded on the same client/server round trip used elsewhere in this
// module's ambient stack (see signer.FromRemote).
package remotesign

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/signer"
)

const moduleName = "remotesign"

// identityResponse is the JSON shape returned by GET /identity.
type identityResponse struct {
	Algorithm        string   `json:"algorithm"`
	Subject          string   `json:"subject"`
	CertificateChain []string `json:"certificate_chain"` // base64 DER, leaf first
}

// signRequest is the JSON shape posted to POST /sign.
type signRequest struct {
	Digest        string `json:"digest"` // base64
	HashAlgorithm string `json:"hash_algorithm"`
}

// signResponse is the JSON shape returned by POST /sign.
type signResponse struct {
	Signature string `json:"signature"` // base64
}

// errorResponse is the JSON shape returned alongside a non-2xx status.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client talks to a remotesign server over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient builds a Client with a sane default timeout, matching the
// teacher's pattern of never leaving an HTTP client's timeout unbounded.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Identity fetches the server's identity and returns a signer.Identity
// whose Sign method delegates back to the server over HTTP.
func (c *Client) Identity(ctx context.Context) (*signer.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/identity", nil)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "Identity", err, "cannot build identity request")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "Identity", err, "identity request to %s failed", c.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeServerError(resp, "Identity")
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "Identity", err, "cannot decode identity response")
	}

	chain := make([][]byte, 0, len(body.CertificateChain))
	for _, b64 := range body.CertificateChain {
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
				moduleName, "Identity", err, "cannot decode certificate in chain")
		}
		chain = append(chain, der)
	}

	return signer.FromRemote(signer.KeyAlgorithm(body.Algorithm), body.Subject, chain, c.sign(ctx))
}

// sign returns a closure matching signer.FromRemote's signFunc shape,
// bound to ctx so every round trip shares its cancellation/deadline.
func (c *Client) sign(ctx context.Context) func([]byte, digest.Algorithm) ([]byte, error) {
	return func(sum []byte, hashAlgo digest.Algorithm) ([]byte, error) {
		reqBody, err := json.Marshal(signRequest{
			Digest:        base64.StdEncoding.EncodeToString(sum),
			HashAlgorithm: hashAlgo.AlgoID(),
		})
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
				moduleName, "sign", err, "cannot encode sign request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sign", bytes.NewReader(reqBody))
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
				moduleName, "sign", err, "cannot build sign request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
				moduleName, "sign", err, "sign request to %s failed", c.BaseURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, decodeServerError(resp, "sign")
		}

		var body signResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
				moduleName, "sign", err, "cannot decode sign response")
		}
		sig, err := base64.StdEncoding.DecodeString(body.Signature)
		if err != nil {
			return nil, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
				moduleName, "sign", err, "cannot decode signature")
		}
		return sig, nil
	}
}

func decodeServerError(resp *http.Response, method string) error {
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errcode.Newf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, method, "server returned status %d", resp.StatusCode)
	}
	return errcode.Newf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
		moduleName, method, "server error %d: %s", body.Code, body.Message)
}
