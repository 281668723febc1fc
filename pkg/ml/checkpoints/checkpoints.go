// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints saves and loads a model.Model: its architecture along with the values of all its
// parameters, in one file.
//
// The file holds an 8-byte little-endian length, followed by a JSON header with that many bytes, followed by
// the raw little-endian values of the parameters, in the order listed in the header. E.g. the header for a
// model with one hidden layer:
//
//	{
//		"input_size": 784,
//		"output_size": 10,
//		"hidden_layers": [128],
//		"parameters": [
//			{"name": "/hidden_0/weights", "dimensions": [128, 784], "dtype": "float64", "pos": 0, "length": 802816},
//			...
//		]
//	}
//
// Example: save at the end of training, and later load it to run inference.
//
//	must.M(checkpoints.Save("~/work/mlp.ckpt", m))
//	...
//	m2, err := checkpoints.Load("~/work/mlp.ckpt")
//
// Loading into an existing model (LoadInto, ReadInto) requires the stored parameters to match the
// model's exactly, otherwise a *ShapeMismatchError listing all differences is returned and the model is
// left untouched.
package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/gomlx/mlptrain/pkg/core/shapes"
	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/gomlx/mlptrain/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// FilePermMode is the default file permission for saved checkpoints.
	FilePermMode = 0o644

	// MaxHeaderSize is the largest JSON header accepted when reading a checkpoint.
	MaxHeaderSize = 64 << 20
)

// serializedData is the JSON header of a checkpoint. Pointers and nil slices mark missing fields.
type serializedData struct {
	InputSize    *int                  `json:"input_size"`
	OutputSize   *int                  `json:"output_size"`
	HiddenLayers []int                 `json:"hidden_layers"`
	Parameters   []serializedParameter `json:"parameters"`
}

// serializedParameter contains information about a parameter that was serialized.
type serializedParameter struct {
	Name       string       `json:"name"`
	Dimensions []int        `json:"dimensions"`
	DType      dtypes.DType `json:"dtype"`

	// Pos, Length in bytes in the data section (after the header).
	Pos    int `json:"pos"`
	Length int `json:"length"`
}

// StoredParameter is a parameter read from a checkpoint.
type StoredParameter struct {
	Name string

	// DType used in the file. Value is always Float64 in memory.
	DType dtypes.DType
	Value *tensors.Tensor
}

// Shape of the stored parameter, with the stored dtype.
func (p StoredParameter) Shape() shapes.Shape {
	return shapes.Make(p.DType, p.Value.Shape().Dimensions...)
}

// Checkpoint is the decoded contents of a checkpoint file.
type Checkpoint struct {
	Architecture model.Architecture

	// Parameters in file order, which is the order of model.Model.Parameters.
	Parameters []StoredParameter

	// DataSize is the size in bytes of the parameters data.
	DataSize int
}

// Parameter returns the stored parameter with the given name.
func (c *Checkpoint) Parameter(name string) (p StoredParameter, found bool) {
	for _, p = range c.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return StoredParameter{}, false
}

// Write encodes the architecture and parameters of m into w.
//
// The whole checkpoint is encoded in memory before anything is written to w.
func Write(w io.Writer, m *model.Model, opts ...Option) error {
	data, err := encode(m, collectOptions(opts...))
	if err != nil {
		return err
	}
	if _, err = w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write checkpoint")
	}
	return nil
}

// Save the architecture and parameters of m to filePath, replacing any previous file.
//
// The checkpoint is written to a temporary file in the same directory, which is then renamed to filePath,
// so a failure never leaves a partially written checkpoint. A "~" prefix in filePath is expanded to the
// user's home directory.
func Save(filePath string, m *model.Model, opts ...Option) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	if err = fsutil.EnsureParentDir(filePath); err != nil {
		return err
	}
	data, err := encode(m, collectOptions(opts...))
	if err != nil {
		return err
	}
	tmpPath := filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath)+"."+uuid.NewString()+".tmp")
	if err = writeFileSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to rename checkpoint %q to %q", tmpPath, filePath)
	}
	klog.V(1).Infof("saved checkpoint %q (%s, %s)", filePath, m.Architecture(), humanize.Bytes(uint64(len(data))))
	return nil
}

func writeFileSynced(filePath string, data []byte) error {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePermMode)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file %q", filePath)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write checkpoint file %q", filePath)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to sync checkpoint file %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close checkpoint file %q", filePath)
	}
	return nil
}

// encode the full checkpoint: header length, header and data.
func encode(m *model.Model, opts *options) ([]byte, error) {
	if !opts.dtype.IsValid() {
		return nil, errors.Errorf("checkpoints.WithDType(%s): only Float64, Float32 and Float16 are supported", opts.dtype)
	}
	arch := m.Architecture()
	header := serializedData{
		InputSize:    &arch.InputSize,
		OutputSize:   &arch.OutputSize,
		HiddenLayers: append([]int{}, arch.HiddenSizes...),
	}
	var data []byte
	for _, p := range m.Parameters() {
		length := opts.dtype.SizeForDimensions(p.Shape().Dimensions...)
		pos := len(data)
		data = append(data, make([]byte, length)...)
		if err := opts.dtype.Encode(p.Value().Flat(), data[pos:]); err != nil {
			return nil, errors.WithMessagef(err, "failed to encode parameter %q", p.Name())
		}
		header.Parameters = append(header.Parameters, serializedParameter{
			Name:       p.Name(),
			Dimensions: p.Shape().Dimensions,
			DType:      opts.dtype,
			Pos:        pos,
			Length:     length,
		})
	}
	headerJSON, err := json.Marshal(&header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode checkpoint header")
	}
	buf := bytes.NewBuffer(make([]byte, 0, 8+len(headerJSON)+len(data)))
	_ = binary.Write(buf, binary.LittleEndian, uint64(len(headerJSON)))
	buf.Write(headerJSON)
	buf.Write(data)
	return buf.Bytes(), nil
}

// ReadFile reads and decodes the checkpoint in filePath.
func ReadFile(filePath string) (*Checkpoint, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", filePath)
	}
	defer func() { _ = f.Close() }()
	ckpt, err := Read(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", filePath)
	}
	klog.V(1).Infof("read checkpoint %q (%s, %s)", filePath, ckpt.Architecture, humanize.Bytes(uint64(ckpt.DataSize)))
	return ckpt, nil
}

// Read decodes a checkpoint from r. It reads r until the end.
//
// The header must have all the fields, and the parameters must be exactly the ones of a model with the
// stored architecture, otherwise an error wrapping ErrMalformedCheckpoint is returned.
func Read(r io.Reader) (*Checkpoint, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, malformedf("missing header length")
		}
		return nil, errors.Wrap(err, "failed to read checkpoint header length")
	}
	if headerLen == 0 || headerLen > MaxHeaderSize {
		return nil, malformedf("invalid header length %d", headerLen)
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, malformedf("truncated header, expected %d bytes", headerLen)
		}
		return nil, errors.Wrap(err, "failed to read checkpoint header")
	}
	var header serializedData
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, errors.Wrapf(ErrMalformedCheckpoint, "invalid header: %v", err)
	}
	ckpt, err := header.validate()
	if err != nil {
		return nil, err
	}

	// The buffer grows with the data actually read, so sizes in the header can't force large allocations.
	data, err := io.ReadAll(io.LimitReader(r, int64(ckpt.DataSize)+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint data")
	}
	if len(data) < ckpt.DataSize {
		return nil, malformedf("truncated data, expected %d bytes, got %d", ckpt.DataSize, len(data))
	}
	if len(data) > ckpt.DataSize {
		return nil, malformedf("unexpected data after the %d bytes of parameters", ckpt.DataSize)
	}

	for ii, p := range header.Parameters {
		value := tensors.Zeros(p.Dimensions...)
		if err := p.DType.Decode(data[p.Pos:p.Pos+p.Length], value.Flat()); err != nil {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "parameter %q: %v", p.Name, err)
		}
		ckpt.Parameters[ii].Value = value
	}
	return ckpt, nil
}

// validate the header and return a Checkpoint with the architecture and the (yet empty) parameters.
func (header *serializedData) validate() (*Checkpoint, error) {
	if header.InputSize == nil || header.OutputSize == nil || header.HiddenLayers == nil {
		return nil, malformedf("header missing the architecture (input_size, output_size and hidden_layers are required)")
	}
	arch := model.Architecture{
		InputSize:   *header.InputSize,
		OutputSize:  *header.OutputSize,
		HiddenSizes: header.HiddenLayers,
	}
	if err := arch.Validate(); err != nil {
		return nil, errors.Wrapf(ErrMalformedCheckpoint, "%v", err)
	}
	expected := arch.ParameterShapes()
	if len(header.Parameters) != len(expected) {
		return nil, malformedf("architecture %s has %d parameters, but %d are stored",
			arch, len(expected), len(header.Parameters))
	}
	ckpt := &Checkpoint{Architecture: arch, Parameters: make([]StoredParameter, len(expected))}
	for ii, p := range header.Parameters {
		if p.Name != expected[ii].Name {
			return nil, malformedf("parameter #%d is %q, expected %q", ii, p.Name, expected[ii].Name)
		}
		if !p.DType.IsValid() {
			return nil, malformedf("parameter %q has invalid dtype", p.Name)
		}
		if !shapes.Make(p.DType, p.Dimensions...).EqualDimensions(shapes.Make(p.DType, expected[ii].Dimensions...)) {
			return nil, malformedf("parameter %q has dimensions %v, but architecture %s requires %v",
				p.Name, p.Dimensions, arch, expected[ii].Dimensions)
		}
		if p.Pos != ckpt.DataSize {
			return nil, malformedf("parameter %q position at %d is out-of-order, expected it to be at %d",
				p.Name, p.Pos, ckpt.DataSize)
		}
		want, err := p.DType.CheckedSizeForDimensions(p.Dimensions...)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "parameter %q: %v", p.Name, err)
		}
		if p.Length != want {
			return nil, malformedf("parameter %q has length %d bytes, %s requires %d bytes",
				p.Name, p.Length, shapes.Make(p.DType, p.Dimensions...), want)
		}
		if p.Length > math.MaxInt-1-ckpt.DataSize {
			return nil, malformedf("parameters data size overflows at parameter %q", p.Name)
		}
		ckpt.DataSize += p.Length
		ckpt.Parameters[ii] = StoredParameter{Name: p.Name, DType: p.DType}
	}
	return ckpt, nil
}

// CopyTo copies the stored parameters into m.
//
// All parameters are checked before any is copied: if any stored parameter is missing from m or has
// a different shape, or if m has parameters that are not stored, it returns a *ShapeMismatchError and m is
// not changed.
func (c *Checkpoint) CopyTo(m *model.Model) error {
	var mismatches []ParameterMismatch
	stored := make(map[string]bool, len(c.Parameters))
	for _, p := range c.Parameters {
		stored[p.Name] = true
		modelParam := m.Parameter(p.Name)
		if modelParam == nil {
			mismatches = append(mismatches, ParameterMismatch{Name: p.Name, Stored: p.Shape(), Expected: shapes.Invalid()})
			continue
		}
		if !modelParam.Shape().EqualDimensions(p.Value.Shape()) {
			mismatches = append(mismatches, ParameterMismatch{Name: p.Name, Stored: p.Shape(), Expected: modelParam.Shape()})
		}
	}
	for _, modelParam := range m.Parameters() {
		if !stored[modelParam.Name()] {
			mismatches = append(mismatches, ParameterMismatch{
				Name: modelParam.Name(), Stored: shapes.Invalid(), Expected: modelParam.Shape()})
		}
	}
	if len(mismatches) > 0 {
		return &ShapeMismatchError{Mismatches: mismatches}
	}
	for _, p := range c.Parameters {
		if err := m.Parameter(p.Name).Value().CopyFrom(p.Value); err != nil {
			return errors.WithMessagef(err, "copying parameter %q", p.Name)
		}
	}
	return nil
}

// Load reads the checkpoint in filePath, and builds a model with the stored architecture and parameters.
//
// The options are passed to model.New: the seed only affects dropout, since all parameters are loaded.
func Load(filePath string, modelOpts ...model.Option) (*model.Model, error) {
	ckpt, err := ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	m, err := model.New(ckpt.Architecture, modelOpts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", filePath)
	}
	if err = ckpt.CopyTo(m); err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", filePath)
	}
	return m, nil
}

// LoadInto reads the checkpoint in filePath and copies its parameters into m. See Checkpoint.CopyTo.
func LoadInto(filePath string, m *model.Model) error {
	ckpt, err := ReadFile(filePath)
	if err != nil {
		return err
	}
	return ckpt.CopyTo(m)
}

// ReadInto reads a checkpoint from r and copies its parameters into m. See Checkpoint.CopyTo.
func ReadInto(r io.Reader, m *model.Model) error {
	ckpt, err := Read(r)
	if err != nil {
		return err
	}
	return ckpt.CopyTo(m)
}

// AttachToLoop saves the model to filePath at the end of every n-th epoch and at the end of the loop.
// If n <= 0, it only saves at the end.
func AttachToLoop(loop *train.Loop, filePath string, m *model.Model, n int, opts ...Option) {
	const priority = 100 // Runs after other hooks.
	save := func() error {
		return Save(filePath, m, opts...)
	}
	if n > 0 {
		train.EveryNEpochs(loop, n, "checkpointing", priority, func(_ *train.Loop, _ train.EpochStats) error {
			return save()
		})
	}
	loop.OnEnd("checkpointing", priority, func(_ *train.Loop, _ []float64) error {
		return save()
	})
}
