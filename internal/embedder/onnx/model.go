//go:build onnx

package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/bowerhall/mira/internal/logger"
)

const defaultMaxLength = 256

type Config struct {
	ModelPath     string
	TokenizerPath string

	// Library is the path to libonnxruntime; empty uses the loader default.
	Library   string
	MaxLength int
}

// Result is the raw last_hidden_state (or pooled output) for one input.
type Result struct {
	Data  []float32
	Shape []int64
	Mask  []int64
}

type Model struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer

	// a session must not run concurrently with Destroy
	mu sync.Mutex
}

var (
	envMu          sync.Mutex
	envInitialized bool
)

func initEnvironment(library string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envInitialized {
		return nil
	}

	if library != "" {
		ort.SetSharedLibraryPath(library)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}

	envInitialized = true
	return nil
}

func Load(cfg Config) (*Model, error) {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = defaultMaxLength
	}

	if err := initEnvironment(cfg.Library); err != nil {
		return nil, err
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath, cfg.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	logger.Info("onnx embedding model loaded", "model", cfg.ModelPath, "max_length", cfg.MaxLength)

	return &Model{session: session, tokenizer: tokenizer}, nil
}

func (m *Model) Run(text string) (Result, error) {
	enc := m.tokenizer.Encode(text)
	shape := ort.NewShape(1, int64(len(enc.IDs)))

	ids, err := ort.NewTensor(shape, enc.IDs)
	if err != nil {
		return Result{}, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy()

	mask, err := ort.NewTensor(shape, enc.AttentionMask)
	if err != nil {
		return Result{}, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy()

	types, err := ort.NewTensor(shape, enc.TypeIDs)
	if err != nil {
		return Result{}, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer types.Destroy()

	outputs := []ort.Value{nil}

	m.mu.Lock()
	err = m.session.Run([]ort.Value{ids, mask, types}, outputs)
	m.mu.Unlock()
	if err != nil {
		return Result{}, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Result{}, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	data := tensor.GetData()

	return Result{
		Data:  append([]float32(nil), data...),
		Shape: append([]int64(nil), tensor.GetShape()...),
		Mask:  enc.AttentionMask,
	}, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}

	err := m.session.Destroy()
	m.session = nil
	return err
}
