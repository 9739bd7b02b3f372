package remotesign

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/signer"
)

// Server answers identity and signing requests on behalf of one local
// signer.Identity, so its private key never leaves the process it
// holds it in.
type Server struct {
	Identity *signer.Identity
	Logger   *slog.Logger
}

// Handler returns an http.Handler exposing GET /identity and
// POST /sign, suitable for http.ListenAndServe or a test server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/identity", s.handleIdentity)
	mux.HandleFunc("/sign", s.handleSign)
	return mux
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errcode.New(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "handleIdentity", "method not allowed"))
		return
	}

	chain := make([]string, len(s.Identity.Chain))
	for i, der := range s.Identity.Chain {
		chain[i] = base64.StdEncoding.EncodeToString(der)
	}

	writeJSON(w, http.StatusOK, identityResponse{
		Algorithm:        string(s.Identity.Algorithm),
		Subject:          s.Identity.Subject,
		CertificateChain: chain,
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errcode.New(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "handleSign", "method not allowed"))
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "handleSign", err, "malformed request body"))
		return
	}

	sum, err := base64.StdEncoding.DecodeString(req.Digest)
	if err != nil {
		writeError(w, http.StatusBadRequest, errcode.Wrapf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "handleSign", err, "malformed digest"))
		return
	}

	hashAlgo, err := algoFromShort(req.HashAlgorithm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The client already hashed the document; sign the digest as-is
	// rather than hashing it a second time.
	sig, err := s.Identity.SignDigest(sum, hashAlgo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, signResponse{Signature: base64.StdEncoding.EncodeToString(sig)})
}

func algoFromShort(short string) (digest.Algorithm, error) {
	switch short {
	case "SHA1":
		return digest.SHA1, nil
	case "SHA256":
		return digest.SHA256, nil
	case "SHA384":
		return digest.SHA384, nil
	case "SHA512":
		return digest.SHA512, nil
	default:
		return "", errcode.Newf(errcode.CodeSignerRemoteFailed, errcode.Recoverable,
			moduleName, "algoFromShort", "unrecognized hash algorithm %q", short)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := errcode.CodeOf(err)
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
