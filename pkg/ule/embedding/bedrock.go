package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// bedrockEmbedRequest/-Response match the Titan Text Embeddings model's
// JSON body shape.
type bedrockEmbedRequest struct {
	InputText string `json:"inputText"`
}

type bedrockEmbedResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// invokeModelAPI is the subset of *bedrockruntime.Client this provider
// calls, narrowed for testability.
type invokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider embeds text via a remote Titan-embeddings-style
// model, rate-limited client-side and circuit-broken against a flaky
// endpoint (§4.7/§4.8 "circuit breaker around connector downloads and
// remote ML/embedding calls").
type BedrockProvider struct {
	client  invokeModelAPI
	modelID string
	dims    int
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewBedrockProvider builds a provider bound to modelID, throttled to
// ratePerSecond requests/second.
func NewBedrockProvider(client *bedrockruntime.Client, modelID string, dims int, ratePerSecond float64) *BedrockProvider {
	if dims <= 0 {
		dims = 1536
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &BedrockProvider{
		client:  client,
		modelID: modelID,
		dims:    dims,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "bedrock-embeddings",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (p *BedrockProvider) Dimensions() int { return p.dims }

func (p *BedrockProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	body, err := json.Marshal(bedrockEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.modelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("invoke embedding model: %w", err)
	}

	output := result.(*bedrockruntime.InvokeModelOutput)
	var parsed bedrockEmbedResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	return parsed.Embedding, nil
}
