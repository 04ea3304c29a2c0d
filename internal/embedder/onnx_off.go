//go:build !onnx

package embedder

import "fmt"

func onnxLoader(cfg Config) (Loader, error) {
	return nil, fmt.Errorf("onnx embedder not compiled in; rebuild with -tags onnx")
}
