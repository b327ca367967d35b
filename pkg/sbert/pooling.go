package sbert

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Pool reduces token-level hidden states of shape [batch, seq, dim] to one
// vector per row. mask has shape [batch, seq]; positions with a zero mask
// are padding.
func Pool(mode PoolingMode, hidden []float32, mask []int64, batch, seq, dim int) ([][]float32, error) {
	if len(hidden) < batch*seq*dim {
		return nil, fmt.Errorf("sbert: hidden states too short: got %d, need %d", len(hidden), batch*seq*dim)
	}
	if len(mask) < batch*seq {
		return nil, fmt.Errorf("sbert: attention mask too short: got %d, need %d", len(mask), batch*seq)
	}

	out := make([][]float32, batch)
	acc := make([]float64, dim)
	tok := make([]float64, dim)
	for b := range batch {
		rowMask := mask[b*seq : (b+1)*seq]
		token := func(s int) []float64 {
			off := (b*seq + s) * dim
			for i, v := range hidden[off : off+dim] {
				tok[i] = float64(v)
			}
			return tok
		}

		switch mode {
		case PoolCLS:
			copy(acc, token(0))

		case PoolMax:
			for i := range acc {
				acc[i] = math.Inf(-1)
			}
			seen := false
			for s := range seq {
				if rowMask[s] == 0 {
					continue
				}
				seen = true
				for i, v := range token(s) {
					acc[i] = math.Max(acc[i], v)
				}
			}
			if !seen {
				clear(acc)
			}

		case PoolMean, PoolMeanSqrtLen:
			clear(acc)
			n := 0
			for s := range seq {
				if rowMask[s] == 0 {
					continue
				}
				floats.Add(acc, token(s))
				n++
			}
			if n > 0 {
				div := float64(n)
				if mode == PoolMeanSqrtLen {
					div = math.Sqrt(div)
				}
				floats.Scale(1/div, acc)
			}

		default:
			return nil, fmt.Errorf("sbert: unknown pooling mode %q", mode)
		}

		out[b] = toFloat32(acc)
	}
	return out, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left as is.
func Normalize(v []float32) {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	n := floats.Norm(f, 2)
	if n < 1e-12 {
		return
	}
	floats.Scale(1/n, f)
	for i, x := range f {
		v[i] = float32(x)
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
