//go:build onnx

package embedder

import (
	"context"
	"fmt"

	"github.com/bowerhall/mira/internal/embedder/onnx"
)

type onnxModel struct {
	m *onnx.Model
}

func onnxLoader(cfg Config) (Loader, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("onnx embedder needs EMBEDDER_MODEL_PATH and EMBEDDER_TOKENIZER_PATH")
	}

	return func(ctx context.Context) (Model, error) {
		m, err := onnx.Load(onnx.Config{
			ModelPath:     cfg.ModelPath,
			TokenizerPath: cfg.TokenizerPath,
			Library:       cfg.Library,
		})
		if err != nil {
			return nil, err
		}
		return &onnxModel{m: m}, nil
	}, nil
}

func (o *onnxModel) Infer(ctx context.Context, text string) (Output, error) {
	res, err := o.m.Run(text)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Data:      res.Data,
		Shape:     res.Shape,
		Mask:      res.Mask,
		Normalize: true,
	}, nil
}

func (o *onnxModel) Close() error {
	return o.m.Close()
}
