package ollama

import (
	"context"
	"net/http"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-desk/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "llama3.1:latest"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

// Client talks to any OpenAI compatible chat completions endpoint. Ollama
// serves one at /v1, which is the default.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	httpClient   *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithAPIKey sets a bearer token. Local Ollama ignores it, hosted
// compatible endpoints need it.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithSystemPrompt(prompt string) ClientOption {
	return func(c *Client) { c.systemPrompt = prompt }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PromptWithStream(_ context.Context, prompt *string, opts ...llms.StreamingPromptOption) llms.Stream {
	options := llms.StreamingPromptOptions{
		BaseOptions: llms.BaseOptions{Instructions: c.systemPrompt},
	}
	for _, opt := range opts {
		opt.ApplyToStreaming(&options)
	}

	messages := toMessages(options.Instructions, options.Turns)
	if prompt != nil {
		messages = append(messages, message{
			Role:    llms.MessageRoleUser,
			Content: *prompt,
		})
	}

	var tools []Tool
	if len(options.Tools) > 0 {
		if err := copier.Copy(&tools, options.Tools); err != nil {
			logger.Warn("failed to convert tools, prompting without them", "error", err)
			tools = nil
		}
		for i := range tools {
			if tools[i].Type == "" {
				tools[i].Type = "function"
			}
		}
	}

	return &Stream{
		url:        c.baseURL + "/chat/completions",
		apiKey:     c.apiKey,
		model:      c.model,
		tools:      tools,
		messages:   messages,
		httpClient: c.httpClient,
	}
}
