// Package onnx provides Go bindings for the ONNX Runtime C API.
//
// ONNX Runtime is a cross-platform inference engine for ONNX models.
// This package wraps the C API, providing Go-native types for
// Environment, Session, and Tensor.
//
// # Architecture
//
// The package exposes three core types:
//
//   - [Env]: global environment (one per process)
//   - [Session]: loads and holds a model (.onnx file)
//   - [Tensor]: N-dimensional float32 or int64 tensor
//
// Usage flow:
//
//	env, _ := onnx.NewEnv("hfembed")
//	defer env.Close()
//
//	session, _ := env.NewSession(modelData, &onnx.SessionOptions{CUDADevice: 0})
//	defer session.Close()
//
//	ids, _ := onnx.NewInt64Tensor([]int64{1, 8}, tokenIDs)
//	defer ids.Close()
//
//	outputs, _ := session.Run([]string{"input_ids"}, []*onnx.Tensor{ids}, nil)
//	hidden, _ := outputs[0].FloatData()
//
// # Execution providers
//
// Sessions run on the CPU unless [SessionOptions.CUDADevice] selects a GPU.
// [CUDAAvailable] reports whether the linked runtime was built with the CUDA
// execution provider.
//
// # Dynamic Linking
//
// ONNX Runtime is dynamically linked (.dylib/.so) via CGo.
//
// # Thread Safety
//
// Env is safe for concurrent use. Session.Run is thread-safe
// (ONNX Runtime uses internal locking).
package onnx

/*
#cgo LDFLAGS: -lonnxruntime
#include <onnxruntime_c_api.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

static const OrtApi* ort_api() {
    return OrtGetApiBase()->GetApi(ORT_API_VERSION);
}

static OrtStatus* ort_create_env(const OrtApi* api, const char* name, OrtEnv** out) {
    return api->CreateEnv(ORT_LOGGING_LEVEL_WARNING, name, out);
}

static OrtStatus* ort_create_session_options(const OrtApi* api, OrtSessionOptions** out) {
    return api->CreateSessionOptions(out);
}

static OrtStatus* ort_set_intra_op_threads(const OrtApi* api, OrtSessionOptions* opts, int n) {
    return api->SetIntraOpNumThreads(opts, n);
}

static OrtStatus* ort_append_cuda(const OrtApi* api, OrtSessionOptions* opts, int device_id) {
    OrtCUDAProviderOptions cuda;
    memset(&cuda, 0, sizeof(cuda));
    cuda.device_id = device_id;
    cuda.gpu_mem_limit = SIZE_MAX;
    cuda.do_copy_in_default_stream = 1;
    return api->SessionOptionsAppendExecutionProvider_CUDA(opts, &cuda);
}

static OrtStatus* ort_create_session_from_memory(const OrtApi* api, OrtEnv* env,
    const void* model_data, size_t model_data_len, OrtSessionOptions* opts, OrtSession** out) {
    return api->CreateSessionFromArray(env, model_data, model_data_len, opts, out);
}

static OrtStatus* ort_get_allocator(const OrtApi* api, OrtAllocator** out) {
    return api->GetAllocatorWithDefaultOptions(out);
}

static OrtStatus* ort_allocator_free(const OrtApi* api, OrtAllocator* a, void* p) {
    return api->AllocatorFree(a, p);
}

static OrtStatus* ort_session_io_count(const OrtApi* api, OrtSession* s, int output, size_t* out) {
    return output ? api->SessionGetOutputCount(s, out) : api->SessionGetInputCount(s, out);
}

static OrtStatus* ort_session_io_name(const OrtApi* api, OrtSession* s, int output,
    size_t i, OrtAllocator* a, char** out) {
    return output ? api->SessionGetOutputName(s, i, a, out) : api->SessionGetInputName(s, i, a, out);
}

static OrtStatus* ort_create_tensor(const OrtApi* api, OrtMemoryInfo* info,
    void* data, size_t data_bytes, int64_t* shape, size_t shape_len,
    ONNXTensorElementDataType typ, OrtValue** out) {
    return api->CreateTensorWithDataAsOrtValue(info, data, data_bytes,
        shape, shape_len, typ, out);
}

static OrtStatus* ort_create_cpu_memory_info(const OrtApi* api, OrtMemoryInfo** out) {
    return api->CreateCpuMemoryInfo(OrtArenaAllocator, OrtMemTypeDefault, out);
}

static OrtStatus* ort_run(const OrtApi* api, OrtSession* session,
    const char** input_names, const OrtValue* const* inputs, size_t num_inputs,
    const char** output_names, size_t num_outputs, OrtValue** outputs) {
    return api->Run(session, NULL, input_names, inputs, num_inputs,
        output_names, num_outputs, outputs);
}

static OrtStatus* ort_get_tensor_data(const OrtApi* api, OrtValue* value, void** out) {
    return api->GetTensorMutableData(value, out);
}

static OrtStatus* ort_get_tensor_info(const OrtApi* api, OrtValue* value,
    int64_t* shape, size_t shape_len, size_t* ndim, ONNXTensorElementDataType* typ) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensionsCount(info, ndim);
    if (!status && typ) status = api->GetTensorElementType(info, typ);
    if (!status && shape && shape_len > 0) status = api->GetDimensions(info, shape, shape_len);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_available_providers(const OrtApi* api, char*** out, int* n) {
    return api->GetAvailableProviders(out, n);
}

static OrtStatus* ort_release_available_providers(const OrtApi* api, char** p, int n) {
    return api->ReleaseAvailableProviders(p, n);
}

static char* ort_string_at(char** arr, int i) { return arr[i]; }

static const char* ort_error_message(const OrtApi* api, OrtStatus* status) {
    return api->GetErrorMessage(status);
}

static void ort_release_status(const OrtApi* api, OrtStatus* status) {
    api->ReleaseStatus(status);
}

static void ort_release_env(const OrtApi* api, OrtEnv* env) { api->ReleaseEnv(env); }
static void ort_release_session(const OrtApi* api, OrtSession* s) { api->ReleaseSession(s); }
static void ort_release_session_options(const OrtApi* api, OrtSessionOptions* o) { api->ReleaseSessionOptions(o); }
static void ort_release_memory_info(const OrtApi* api, OrtMemoryInfo* i) { api->ReleaseMemoryInfo(i); }
static void ort_release_value(const OrtApi* api, OrtValue* v) { api->ReleaseValue(v); }
*/
import "C"

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"unsafe"
)

// api returns the global ORT API pointer.
func api() *C.OrtApi {
	return C.ort_api()
}

// checkStatus converts an OrtStatus to a Go error.
func checkStatus(status *C.OrtStatus) error {
	if status == nil {
		return nil
	}
	msg := C.GoString(C.ort_error_message(api(), status))
	C.ort_release_status(api(), status)
	return fmt.Errorf("onnx: %s", msg)
}

// --------------------------------------------------------------------------
// Providers
// --------------------------------------------------------------------------

// CUDAProvider is the name of the CUDA execution provider.
const CUDAProvider = "CUDAExecutionProvider"

// AvailableProviders lists the execution providers compiled into the
// linked ONNX Runtime, e.g. ["CUDAExecutionProvider", "CPUExecutionProvider"].
func AvailableProviders() ([]string, error) {
	var arr **C.char
	var n C.int
	if err := checkStatus(C.ort_get_available_providers(api(), &arr, &n)); err != nil {
		return nil, err
	}
	defer C.ort_release_available_providers(api(), arr, n)

	out := make([]string, int(n))
	for i := range out {
		out[i] = C.GoString(C.ort_string_at(arr, C.int(i)))
	}
	return out, nil
}

var (
	cudaOnce  sync.Once
	cudaAvail bool
)

// CUDAAvailable reports whether the CUDA execution provider is available.
// The result is computed once per process.
func CUDAAvailable() bool {
	cudaOnce.Do(func() {
		providers, err := AvailableProviders()
		cudaAvail = err == nil && slices.Contains(providers, CUDAProvider)
	})
	return cudaAvail
}

// --------------------------------------------------------------------------
// Env
// --------------------------------------------------------------------------

// Env is the ONNX Runtime environment. Create one per process.
type Env struct {
	env *C.OrtEnv
}

// NewEnv creates a new ONNX Runtime environment.
func NewEnv(name string) (*Env, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var env *C.OrtEnv
	if err := checkStatus(C.ort_create_env(api(), cName, &env)); err != nil {
		return nil, err
	}

	e := &Env{env: env}
	runtime.SetFinalizer(e, (*Env).Close)
	return e, nil
}

// SessionOptions configures a Session. A nil *SessionOptions selects the
// CPU with ONNX Runtime's default threading.
type SessionOptions struct {
	// IntraOpThreads bounds the threads used within one operator.
	// Zero keeps the runtime default.
	IntraOpThreads int

	// CUDADevice selects the GPU ordinal for the CUDA execution provider.
	// Negative values run on the CPU.
	CUDADevice int
}

// CPUOptions returns options that run on the CPU.
func CPUOptions() *SessionOptions {
	return &SessionOptions{CUDADevice: -1}
}

// NewSession creates a session from in-memory ONNX model data.
func (e *Env) NewSession(modelData []byte, so *SessionOptions) (*Session, error) {
	if len(modelData) == 0 {
		return nil, fmt.Errorf("onnx: empty model data")
	}
	if so == nil {
		so = CPUOptions()
	}

	var opts *C.OrtSessionOptions
	if err := checkStatus(C.ort_create_session_options(api(), &opts)); err != nil {
		return nil, err
	}
	defer C.ort_release_session_options(api(), opts)

	if so.IntraOpThreads > 0 {
		if err := checkStatus(C.ort_set_intra_op_threads(api(), opts, C.int(so.IntraOpThreads))); err != nil {
			return nil, err
		}
	}
	if so.CUDADevice >= 0 {
		if err := checkStatus(C.ort_append_cuda(api(), opts, C.int(so.CUDADevice))); err != nil {
			return nil, fmt.Errorf("onnx: cuda:%d: %w", so.CUDADevice, err)
		}
	}

	var session *C.OrtSession
	if err := checkStatus(C.ort_create_session_from_memory(
		api(), e.env,
		unsafe.Pointer(&modelData[0]), C.size_t(len(modelData)),
		opts, &session,
	)); err != nil {
		return nil, err
	}

	s := &Session{session: session, pinned: modelData}
	runtime.SetFinalizer(s, (*Session).Close)

	var err error
	if s.inputs, err = s.ioNames(false); err != nil {
		s.Close()
		return nil, err
	}
	if s.outputs, err = s.ioNames(true); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the environment.
func (e *Env) Close() error {
	if e.env != nil {
		C.ort_release_env(api(), e.env)
		e.env = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session holds a loaded ONNX model.
type Session struct {
	session *C.OrtSession
	pinned  any // prevents GC of model data
	inputs  []string
	outputs []string
}

// InputNames returns the model's declared input names, in order.
func (s *Session) InputNames() []string { return slices.Clone(s.inputs) }

// OutputNames returns the model's declared output names, in order.
func (s *Session) OutputNames() []string { return slices.Clone(s.outputs) }

func (s *Session) ioNames(output bool) ([]string, error) {
	flag := C.int(0)
	if output {
		flag = 1
	}
	var alloc *C.OrtAllocator
	if err := checkStatus(C.ort_get_allocator(api(), &alloc)); err != nil {
		return nil, err
	}
	var n C.size_t
	if err := checkStatus(C.ort_session_io_count(api(), s.session, flag, &n)); err != nil {
		return nil, err
	}
	names := make([]string, int(n))
	for i := range names {
		var cName *C.char
		if err := checkStatus(C.ort_session_io_name(api(), s.session, flag, C.size_t(i), alloc, &cName)); err != nil {
			return nil, err
		}
		names[i] = C.GoString(cName)
		C.ort_allocator_free(api(), alloc, unsafe.Pointer(cName))
	}
	return names, nil
}

// Run executes inference with the given inputs and output names. A nil
// outputNames requests every declared output.
// Returns output tensors. The caller must close each output tensor.
func (s *Session) Run(inputNames []string, inputs []*Tensor, outputNames []string) ([]*Tensor, error) {
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("onnx: input names/tensors length mismatch: %d vs %d", len(inputNames), len(inputs))
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("onnx: no inputs")
	}
	if outputNames == nil {
		outputNames = s.outputs
	}
	if len(outputNames) == 0 {
		return nil, fmt.Errorf("onnx: no outputs requested")
	}

	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cInputNames[i]))
	}

	cInputs := make([]*C.OrtValue, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.value
	}

	cOutputNames := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOutputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cOutputNames[i]))
	}

	cOutputs := make([]*C.OrtValue, len(outputNames))

	status := C.ort_run(api(), s.session,
		&cInputNames[0], &cInputs[0], C.size_t(len(inputs)),
		&cOutputNames[0], C.size_t(len(outputNames)), &cOutputs[0],
	)
	runtime.KeepAlive(inputs)
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	outputs := make([]*Tensor, len(outputNames))
	for i, val := range cOutputs {
		outputs[i] = &Tensor{value: val, owned: true}
		runtime.SetFinalizer(outputs[i], (*Tensor).Close)
	}
	return outputs, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.session != nil {
		C.ort_release_session(api(), s.session)
		s.session = nil
		runtime.SetFinalizer(s, nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// Tensor
// --------------------------------------------------------------------------

// Tensor is an N-dimensional tensor (OrtValue).
type Tensor struct {
	value  *C.OrtValue
	pinned any  // prevents GC of external data
	owned  bool // if true, Close releases the OrtValue
}

// NewTensor creates a float32 tensor with the given shape and data.
// The data slice must remain valid for the lifetime of the Tensor.
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor data")
	}
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return newTensor(shape, unsafe.Pointer(&data[0]), len(data)*4,
		C.ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT, data)
}

// NewInt64Tensor creates an int64 tensor, the element type of token ids
// and attention masks. The data slice must remain valid for the lifetime
// of the Tensor.
func NewInt64Tensor(shape []int64, data []int64) (*Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("onnx: empty tensor data")
	}
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return newTensor(shape, unsafe.Pointer(&data[0]), len(data)*8,
		C.ONNX_TENSOR_ELEMENT_DATA_TYPE_INT64, data)
}

func checkShape(shape []int64, n int) error {
	if len(shape) == 0 {
		return fmt.Errorf("onnx: empty tensor shape")
	}
	total := int64(1)
	for _, d := range shape {
		total *= d
	}
	if int64(n) < total {
		return fmt.Errorf("onnx: tensor data too short: got %d, need %d", n, total)
	}
	return nil
}

func newTensor(shape []int64, data unsafe.Pointer, nbytes int, typ C.ONNXTensorElementDataType, pin any) (*Tensor, error) {
	var memInfo *C.OrtMemoryInfo
	if err := checkStatus(C.ort_create_cpu_memory_info(api(), &memInfo)); err != nil {
		return nil, err
	}
	defer C.ort_release_memory_info(api(), memInfo)

	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor(
		api(), memInfo,
		data, C.size_t(nbytes),
		(*C.int64_t)(unsafe.Pointer(&shape[0])), C.size_t(len(shape)),
		typ, &value,
	)); err != nil {
		return nil, err
	}

	t := &Tensor{value: value, pinned: pin, owned: true}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// FloatData copies the tensor data into a new float32 slice.
// It fails for tensors of any other element type.
func (t *Tensor) FloatData() ([]float32, error) {
	shape, typ, err := t.info()
	if err != nil {
		return nil, err
	}
	if typ != C.ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT {
		return nil, fmt.Errorf("onnx: tensor element type %d is not float32", int(typ))
	}

	total := 1
	for _, d := range shape {
		total *= int(d)
	}
	if total <= 0 {
		return nil, nil
	}

	var ptr unsafe.Pointer
	if err := checkStatus(C.ort_get_tensor_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}
	out := make([]float32, total)
	C.memcpy(unsafe.Pointer(&out[0]), ptr, C.size_t(total*4))
	return out, nil
}

// Shape returns the tensor dimensions.
func (t *Tensor) Shape() ([]int64, error) {
	shape, _, err := t.info()
	return shape, err
}

func (t *Tensor) info() ([]int64, C.ONNXTensorElementDataType, error) {
	var ndim C.size_t
	var typ C.ONNXTensorElementDataType
	if err := checkStatus(C.ort_get_tensor_info(api(), t.value, nil, 0, &ndim, &typ)); err != nil {
		return nil, typ, err
	}
	if ndim == 0 {
		return nil, typ, nil
	}
	shape := make([]int64, int(ndim))
	if err := checkStatus(C.ort_get_tensor_info(api(), t.value,
		(*C.int64_t)(unsafe.Pointer(&shape[0])), ndim, &ndim, nil)); err != nil {
		return nil, typ, err
	}
	return shape, typ, nil
}

// Close releases the tensor.
func (t *Tensor) Close() error {
	if t.value != nil && t.owned {
		C.ort_release_value(api(), t.value)
		t.value = nil
		runtime.SetFinalizer(t, nil)
	}
	return nil
}
