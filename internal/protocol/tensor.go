package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor dtypes carried on the wire.
const (
	DtypeFloat64 = "float64"
	DtypeFloat32 = "float32"
	DtypeUint8   = "uint8"
)

// Tensor is a self-describing numeric array: shape, dtype, and raw
// little-endian bytes (base64 in JSON). Request and response share it.
type Tensor struct {
	Shape []int  `json:"shape"`
	Dtype string `json:"dtype"`
	Data  []byte `json:"data"`
}

func dtypeSize(dtype string) (int, bool) {
	switch dtype {
	case DtypeFloat64:
		return 8, true
	case DtypeFloat32:
		return 4, true
	case DtypeUint8:
		return 1, true
	}
	return 0, false
}

// Elems is the element count implied by the shape.
func (t Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks dtype, positive dims, and that the byte payload matches
// shape x dtype exactly. The element product is bounded per multiplication
// so a huge shape cannot wrap the int range and imply a zero byte size.
func (t Tensor) Validate() error {
	size, ok := dtypeSize(t.Dtype)
	if !ok {
		return fmt.Errorf("tensor: unknown dtype %q", t.Dtype)
	}
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor: empty shape")
	}
	maxElems := math.MaxInt / size
	elems := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor: non-positive dim %d in shape %v", d, t.Shape)
		}
		if elems > maxElems/d {
			return fmt.Errorf("tensor: shape %v dtype %s exceeds addressable size", t.Shape, t.Dtype)
		}
		elems *= d
	}
	if want := elems * size; len(t.Data) != want {
		return fmt.Errorf("tensor: %d data bytes, shape %v dtype %s wants %d", len(t.Data), t.Shape, t.Dtype, want)
	}
	return nil
}

// Float64Tensor packs values as a float64 tensor of the given shape.
func Float64Tensor(shape []int, vals []float64) Tensor {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return Tensor{Shape: shape, Dtype: DtypeFloat64, Data: data}
}

// Float32Tensor packs float64 values as a float32 tensor (the response dtype).
func Float32Tensor(shape []int, vals []float64) Tensor {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(v)))
	}
	return Tensor{Shape: shape, Dtype: DtypeFloat32, Data: data}
}

// Uint8Tensor wraps raw bytes (e.g. an RGB frame) without copying.
func Uint8Tensor(shape []int, data []byte) Tensor {
	return Tensor{Shape: shape, Dtype: DtypeUint8, Data: data}
}

// Float64s decodes the payload into float64 values. float32 tensors widen;
// uint8 tensors are rejected.
func (t Tensor) Float64s() ([]float64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n := t.Elems()
	out := make([]float64, n)
	switch t.Dtype {
	case DtypeFloat64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.Data[8*i:]))
		}
	case DtypeFloat32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:])))
		}
	default:
		return nil, fmt.Errorf("tensor: dtype %s is not numeric float", t.Dtype)
	}
	return out, nil
}

// Rows decodes a rank-2 float tensor into one slice per row.
func (t Tensor) Rows() ([][]float64, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("tensor: rank %d, want 2", len(t.Shape))
	}
	flat, err := t.Float64s()
	if err != nil {
		return nil, err
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = flat[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return out, nil
}
