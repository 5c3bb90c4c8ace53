package reach

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/opskit/stevedore/pkg/errdefs"
	"github.com/opskit/stevedore/pkg/log"
	"github.com/opskit/stevedore/pkg/types"
)

// Verifier performs the end-to-end reachability check against the public
// endpoint after services report healthy. Encrypted transport is tried
// first; plain transport is a fallback that covers the certificate
// provisioning grace period, when the ACME handshake may still be in
// flight.
type Verifier struct {
	// SecureURL and PlainURL address the same logical endpoint over the
	// two transports.
	SecureURL string
	PlainURL  string

	// Client is the HTTP client used for both probes.
	Client *http.Client
}

// NewVerifier builds a verifier for the public hostname on the standard
// ports.
func NewVerifier(host string) *Verifier {
	return &Verifier{
		SecureURL: "https://" + host,
		PlainURL:  "http://" + host,
		Client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Verify probes the endpoint and returns the first transport that
// answers. Plain-only success is reported as a warning, not an error:
// encrypted capability often arrives shortly after plain capability.
func (v *Verifier) Verify(ctx context.Context) types.Reachability {
	logger := log.WithComponent("reach")

	if err := v.probe(ctx, v.SecureURL); err == nil {
		logger.Info().Str("url", v.SecureURL).Msg("endpoint reachable over encrypted transport")
		return types.ReachableEncrypted
	} else {
		logger.Debug().Err(err).Str("url", v.SecureURL).Msg("encrypted probe failed")
	}

	if err := v.probe(ctx, v.PlainURL); err == nil {
		logger.Warn().Str("url", v.PlainURL).
			Msg("endpoint reachable over plain transport only; certificate may still be provisioning")
		return types.ReachablePlain
	} else {
		logger.Debug().Err(err).Str("url", v.PlainURL).Msg("plain probe failed")
	}

	logger.Error().Err(errdefs.ErrUnreachable).Msg("verification failed")
	return types.Unreachable
}

func (v *Verifier) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
