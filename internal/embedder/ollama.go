package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bowerhall/mira/internal/apperr"
)

type ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ollamaLoader checks the server is reachable before handing out a model.
func ollamaLoader(baseURL, model string) Loader {
	return func(ctx context.Context) (Model, error) {
		o := &ollama{
			baseURL: baseURL,
			model:   model,
			client:  http.DefaultClient,
		}

		req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
		if err != nil {
			return nil, err
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindNetwork, "ollama.load", err)
		}
		resp.Body.Close()

		if resp.StatusCode != 200 {
			return nil, apperr.New(apperr.KindExternalService, "ollama.load", fmt.Sprintf("status %d", resp.StatusCode))
		}

		return o, nil
	}
}

func (o *ollama) Infer(ctx context.Context, text string) (Output, error) {
	reqBody := ollamaRequest{
		Model:  o.model,
		Prompt: text,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return Output{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return Output{}, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindNetwork, "ollama.Infer", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Output{}, apperr.Wrap(apperr.KindNetwork, "ollama.Infer", err)
	}

	if resp.StatusCode != 200 {
		return Output{}, apperr.New(apperr.KindExternalService, "ollama.Infer",
			fmt.Sprintf("ollama error (status %d): %s", resp.StatusCode, string(body)))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return Output{}, apperr.Wrap(apperr.KindExternalService, "ollama.Infer", err)
	}

	return Output{Data: ollamaResp.Embedding}, nil
}

func (o *ollama) Close() error {
	return nil
}
