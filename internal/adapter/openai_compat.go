package adapter

import (
	"context"
	"os"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// openAICompatAdapter forwards the request body unchanged to
// {base_url}/v1/chat/completions and forwards the response verbatim on
// 2xx. It never parses the body — whatever shape the client sent is
// whatever shape the provider receives.
type openAICompatAdapter struct{}

func (openAICompatAdapter) Forward(ctx context.Context, p *catalog.Provider, requestBody []byte) ([]byte, catalog.NormalizedError, error) {
	headers := map[string]string{}
	if p.APIKeyEnv != "" {
		if key, ok := os.LookupEnv(p.APIKeyEnv); ok && key != "" {
			headers["Authorization"] = "Bearer " + key
		}
	}
	return doRequest(ctx, p.BaseURL+"/v1/chat/completions", requestBody, headers)
}
